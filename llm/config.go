package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 10 * time.Minute

// Config holds the transport settings shared by every provider.
type Config struct {
	// BaseURL is the server root (e.g. "http://127.0.0.1:8000").
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	// Model is the default model name sent with each request.
	Model string `mapstructure:"model" json:"model"`
	// Temperature is the default sampling temperature.
	Temperature float64 `mapstructure:"temperature" json:"temperature"`
	// TopP is the default nucleus sampling cutoff.
	TopP float64 `mapstructure:"top_p" json:"top_p"`
	// MaxTokens is the default maximum tokens for responses. 0 means provider default.
	MaxTokens int `mapstructure:"max_tokens" json:"max_tokens"`
	// Timeout for a single HTTP request.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	// APIKey is sent as a Bearer token when set.
	APIKey string `mapstructure:"api_key" json:"-"`
	// Headers are additional HTTP headers sent with every request.
	Headers map[string]string `mapstructure:"headers" json:"headers"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults(baseURL, model string) {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = model
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// DecodeConfig builds a Config from a loosely typed parameter map. Unknown
// keys are ignored so node params can be passed through whole.
func DecodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		return cfg, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("llm: decode config: %w", err)
	}
	return cfg, nil
}
