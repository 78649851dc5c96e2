package config

import "time"

// Environment variables read by the resource.
const (
	// EnvConfigPath points at a YAML logging/process configuration file.
	EnvConfigPath = "RESOURCE_CONFIGLOG"
	// EnvDebug mirrors all log output to stderr at debug level when truthy.
	EnvDebug = "RESOURCE_DEBUG"
)

// Config represents the resource's side-channel configuration.
// None of it changes protocol behavior.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Process ProcessConfig `yaml:"process"`

	// Path is the file the config was loaded from; empty for defaults.
	Path string `yaml:"-"`
	// Debug is set from RESOURCE_DEBUG.
	Debug bool `yaml:"-"`
}

// LoggingConfig defines where and how diagnostics are written.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
	// File is the log destination. Empty means a fresh temp file; "-" or "stderr" means stderr.
	File string `yaml:"file,omitempty"`
}

// ProcessConfig holds defaults for the process runner.
type ProcessConfig struct {
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	Grace         time.Duration `yaml:"grace,omitempty"`
	FailOnNonZero bool          `yaml:"fail_on_nonzero,omitempty"`
	// Exec lets source.exec name commands to run for check, in and out.
	// Off by default: source is pipeline data and never selects code to run on its own.
	Exec bool `yaml:"exec,omitempty"`
}

// Defaults returns the configuration used when no file is configured.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "debug",
			Format: "text",
		},
	}
}
