package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/logger"
	"github.com/kbukum/polysome/observability"
	"github.com/kbukum/polysome/storage"
	"github.com/kbukum/polysome/validation"
)

// AppName is the base name used for config file discovery and the env prefix.
const AppName = "polysome"

// Environment is the resolved run environment. Construct it once with
// LoadEnvironment and treat it as read-only.
type Environment struct {
	// ModelDir is the host directory that replaces the /models/ prefix in node model paths.
	ModelDir string `mapstructure:"model_dir" json:"model_dir"`
	// DataDir overrides the workflow's data_dir when set.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`
	// OutputDir overrides the workflow's output_dir when set.
	OutputDir string `mapstructure:"output_dir" json:"output_dir"`
	// PromptsDir overrides the workflow's prompts_dir when set.
	PromptsDir string `mapstructure:"prompts_dir" json:"prompts_dir"`
	// LogDir is where the run log file is written. Defaults to <output_dir>/logs.
	LogDir string `mapstructure:"log_dir" json:"log_dir"`

	// VisibleDevices lists the physical device ids shards may be pinned to.
	// Logical device i maps to VisibleDevices[i].
	VisibleDevices []int `mapstructure:"-" json:"visible_devices" validate:"dive,min=0"`
	// DataParallelEnabled enables the data-parallel capability of the serving engine.
	DataParallelEnabled bool `mapstructure:"data_parallel_enabled" json:"data_parallel_enabled"`

	// FailFast is the default failure policy for nodes that do not set params.fail_fast.
	FailFast bool `mapstructure:"fail_fast" json:"fail_fast"`
	// StrictInput turns duplicate case ids into a DataError instead of a diagnostic.
	StrictInput bool `mapstructure:"strict_input" json:"strict_input"`
	// Timeout bounds the whole workflow run. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" validate:"min=0"`
	// ShutdownGrace bounds engine shutdown after cancellation.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" json:"shutdown_grace" validate:"min=0"`

	Logging       logger.Config        `mapstructure:"logging" json:"logging"`
	Observability observability.Config `mapstructure:"observability" json:"observability"`
	Artifacts     storage.Config       `mapstructure:"artifacts" json:"artifacts"`
}

// Devices returns a copy of the visible device list.
func (e *Environment) Devices() []int {
	out := make([]int, len(e.VisibleDevices))
	copy(out, e.VisibleDevices)
	return out
}

// Device maps a logical device index to its physical id. When no visibility
// list is configured the logical index is used as-is.
func (e *Environment) Device(logical int) (int, error) {
	if len(e.VisibleDevices) == 0 {
		return logical, nil
	}
	if logical < 0 || logical >= len(e.VisibleDevices) {
		return 0, fmt.Errorf("logical device %d out of range (%d visible)", logical, len(e.VisibleDevices))
	}
	return e.VisibleDevices[logical], nil
}

// ResolveLogDir returns the configured log dir, or <outputDir>/logs.
func (e *Environment) ResolveLogDir(outputDir string) string {
	if e.LogDir != "" {
		return e.LogDir
	}
	return filepath.Join(outputDir, "logs")
}

// ApplyDefaults fills zero-valued fields.
func (e *Environment) ApplyDefaults() {
	if e.ShutdownGrace == 0 {
		e.ShutdownGrace = 30 * time.Second
	}
	e.Logging.ApplyDefaults()
	e.Observability.ApplyDefaults()
}

// Validate checks the environment for internal consistency.
func (e *Environment) Validate() error {
	if err := validation.Validate(e); err != nil {
		return errors.ConfigError("invalid environment").WithCause(err)
	}
	if err := e.Logging.Validate(); err != nil {
		return errors.ConfigError("invalid environment").WithCause(err)
	}
	if e.Artifacts.Enabled() {
		if err := e.Artifacts.Validate(); err != nil {
			return errors.ConfigError("invalid environment").WithCause(err)
		}
	}
	return nil
}

// LoadEnvironment resolves the Environment from defaults, config file, .env,
// environment variables and flags.
func LoadEnvironment(opts ...LoaderOption) (*Environment, error) {
	lc := LoaderConfig{AppName: AppName}
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = &RealFileSystem{}
	}

	v, err := newViper(lc)
	if err != nil {
		return nil, errors.ConfigError("cannot load environment").WithCause(err)
	}

	var env Environment
	if err := v.Unmarshal(&env); err != nil {
		return nil, errors.ConfigError("cannot decode environment").WithCause(err)
	}
	devices, err := parseDevices(v.Get("visible_devices"))
	if err != nil {
		return nil, errors.ConfigError("invalid visible_devices").WithCause(err)
	}
	env.VisibleDevices = devices

	env.ApplyDefaults()
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// envBindings maps config keys to the environment variable names that feed them,
// in precedence order.
var envBindings = map[string][]string{
	"model_dir":              {"POLYSOME_MODEL_DIR", "MODEL_PATH"},
	"data_dir":               {"POLYSOME_DATA_DIR", "DATA_PATH"},
	"output_dir":             {"POLYSOME_OUTPUT_DIR", "OUTPUT_PATH"},
	"prompts_dir":            {"POLYSOME_PROMPTS_DIR", "PROMPTS_PATH"},
	"log_dir":                {"POLYSOME_LOG_DIR", "LOG_PATH"},
	"visible_devices":        {"POLYSOME_VISIBLE_DEVICES", "CUDA_VISIBLE_DEVICES"},
	"data_parallel_enabled":  {"POLYSOME_DATA_PARALLEL", "VLLM_USE_V1"},
	"fail_fast":              {"POLYSOME_FAIL_FAST"},
	"strict_input":           {"POLYSOME_STRICT_INPUT"},
	"timeout":                {"POLYSOME_TIMEOUT"},
	"logging.level":          {"POLYSOME_LOG_LEVEL", "LOG_LEVEL"},
	"logging.format":         {"POLYSOME_LOG_FORMAT", "LOG_FORMAT"},
	"observability.endpoint": {"POLYSOME_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"},
	"artifacts.provider":     {"POLYSOME_ARTIFACTS_PROVIDER"},
	"artifacts.bucket":       {"POLYSOME_ARTIFACTS_BUCKET"},
	"artifacts.prefix":       {"POLYSOME_ARTIFACTS_PREFIX"},
	"artifacts.region":       {"POLYSOME_ARTIFACTS_REGION", "AWS_REGION"},
	"artifacts.endpoint":     {"POLYSOME_ARTIFACTS_ENDPOINT"},
}

// flagBindings maps config keys to the flag names registered by BindFlags.
var flagBindings = map[string]string{
	"model_dir":             "model-dir",
	"data_dir":              "data-dir",
	"output_dir":            "output-dir",
	"prompts_dir":           "prompts-dir",
	"log_dir":               "log-dir",
	"visible_devices":       "devices",
	"data_parallel_enabled": "data-parallel",
	"fail_fast":             "fail-fast",
	"strict_input":          "strict-input",
	"timeout":               "timeout",
	"logging.level":         "log-level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_parallel_enabled", false)
	v.SetDefault("fail_fast", false)
	v.SetDefault("strict_input", false)
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("shutdown_grace", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("observability.service_name", AppName)
}

func bindEnv(v *viper.Viper) error {
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}
	return nil
}

// BindFlags registers the environment flags on fs. Pass the parsed set to
// LoadEnvironment with WithFlags.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("model-dir", "", "host directory holding model weights")
	fs.String("data-dir", "", "override the workflow data directory")
	fs.String("output-dir", "", "override the workflow output directory")
	fs.String("prompts-dir", "", "override the workflow prompts directory")
	fs.String("log-dir", "", "directory for the run log (default <output_dir>/logs)")
	fs.String("devices", "", "comma-separated visible device ids")
	fs.Bool("data-parallel", false, "enable data-parallel serving engine capability")
	fs.Bool("fail-fast", false, "abort a node on the first failed record or shard")
	fs.Bool("strict-input", false, "treat duplicate case ids as fatal")
	fs.Duration("timeout", 0, "workflow timeout (0 disables)")
	fs.String("log-level", "", "log level")
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for key, name := range flagBindings {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("config: bind flag %s: %w", name, err)
		}
	}
	return nil
}

// parseDevices accepts a comma-separated string ("6,7") or a list.
func parseDevices(raw any) ([]int, error) {
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		parts := strings.Split(s, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			id, err := cast.ToIntE(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("device %q: %w", p, err)
			}
			out = append(out, id)
		}
		return out, nil
	}
	return cast.ToIntSliceE(raw)
}
