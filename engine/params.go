package engine

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Param keys read by engines in addition to the llm transport settings
// (temperature, top_p, max_tokens, timeout, api_key, headers).
const (
	ParamTransport      = "transport"
	ParamBaseURL        = "base_url"
	ParamServerCommand  = "server_command"
	ParamServerArgs     = "server_args"
	ParamPort           = "port"
	ParamStartupTimeout = "startup_timeout"
	ParamPollInterval   = "poll_interval"
	ParamMaxConcurrency = "max_concurrency"
	ParamSystemPrompt   = "system_prompt"
)

const (
	defaultStartupTimeout = 10 * time.Minute
	defaultPollInterval   = time.Second
)

// Params are the engine settings decoded from a node's params.
type Params struct {
	ModelName string `mapstructure:"model_name"`
	// Transport names the llm provider used to talk to the server.
	Transport string `mapstructure:"transport"`
	// BaseURL attaches to a running server. Without ServerCommand nothing is launched.
	BaseURL string `mapstructure:"base_url"`
	// ServerCommand replaces the variant's default launch command.
	ServerCommand []string `mapstructure:"server_command"`
	// ServerArgs are appended to the launch command.
	ServerArgs     []string      `mapstructure:"server_args"`
	Port           int           `mapstructure:"port"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
	PromptFile     string        `mapstructure:"prompt_file"`
}

// DecodeParams reads Params from a node's loosely typed params. Unknown keys
// are ignored. A string command is split on spaces.
func DecodeParams(raw map[string]any) (Params, error) {
	var p Params
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(" "),
		),
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(raw); err != nil {
		return p, fmt.Errorf("engine: decode params: %w", err)
	}
	return p, nil
}

func (p *Params) applyDefaults(v variant) {
	if p.Transport == "" {
		p.Transport = v.transport
	}
	if p.Port == 0 {
		p.Port = v.port
	}
	if p.StartupTimeout == 0 {
		p.StartupTimeout = defaultStartupTimeout
	}
	if p.PollInterval == 0 {
		p.PollInterval = defaultPollInterval
	}
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = v.concurrency
	}
}
