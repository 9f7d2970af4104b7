package logger

import "github.com/kbukum/polysome/validation"

// Config contains logging configuration.
type Config struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"`
	Output    string `yaml:"output" mapstructure:"output"`
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
	Caller    bool   `yaml:"caller" mapstructure:"caller"`
	// FileLevel is the minimum level written to the run log file. Defaults to Level.
	FileLevel string `yaml:"file_level" mapstructure:"file_level"`
}

// ApplyDefaults applies default values to logging configuration.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
	if c.FileLevel == "" {
		c.FileLevel = c.Level
	}
	c.Timestamp = true
}

var (
	validLevels  = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	validFormats = []string{"json", "console", "text"}
)

// Validate validates logging configuration.
func (c *Config) Validate() error {
	v := validation.New().
		Required("logging.level", c.Level).
		OneOf("logging.level", c.Level, validLevels).
		OneOf("logging.file_level", c.FileLevel, validLevels).
		Required("logging.format", c.Format).
		OneOf("logging.format", c.Format, validFormats)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}
