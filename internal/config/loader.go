package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/concourse-resource/internal/protocol"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// FromEnv resolves the configuration from the environment.
// When RESOURCE_CONFIGLOG is unset, defaults are returned. When it is set, the file is
// loaded; a load error is returned alongside the defaults so the caller can report it
// and keep going.
func FromEnv(getenv func(string) string) (*Config, error) {
	debug := protocol.IsTruthy(getenv(EnvDebug))

	path := strings.TrimSpace(getenv(EnvConfigPath))
	if path == "" {
		cfg := Defaults()
		cfg.Debug = debug
		return cfg, nil
	}

	cfg, err := Load(os.ExpandEnv(path))
	if err != nil {
		cfg = Defaults()
		cfg.Logging.File = "stderr"
		cfg.Debug = debug
		return cfg, err
	}
	cfg.Debug = debug
	return cfg, nil
}

// Load reads and parses a YAML configuration file. ${VAR} references in the file
// are replaced with environment values before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}
	cfg.Path = absPath

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", absPath, err)
	}

	return cfg, nil
}

// interpolateEnv replaces ${VAR} with the value of VAR. Unset variables are left as-is.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level)
	}

	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be json or text (got %q)", cfg.Logging.Format)
	}

	if cfg.Process.Timeout < 0 {
		return fmt.Errorf("process.timeout must not be negative")
	}
	if cfg.Process.Grace < 0 {
		return fmt.Errorf("process.grace must not be negative")
	}

	return nil
}
