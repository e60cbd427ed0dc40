// Package config loads the agent file (nutwatch.yaml): which sinks run,
// logging, the admin endpoint and dispatch limits.
// Precedence: environment variables > config file > defaults.
//
// Connection settings of the UPS and of each sink are not here; they are
// read from namespaced environment variables (NUT_*, INFLUX_*, ...) and
// validated by package schema.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all agent configuration.
type Config struct {
	Sinks    []string       `yaml:"sinks"`
	Logging  LoggingConfig  `yaml:"logging"`
	Admin    AdminConfig    `yaml:"admin"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// LoggingConfig holds logging settings. An empty File logs to stdout only.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// AdminConfig holds the health/metrics HTTP endpoint settings.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DispatchConfig bounds how long a single sink may take per reading.
type DispatchConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Sinks: []string{"log"},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Admin: AdminConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9105",
		},
		Dispatch: DispatchConfig{
			Timeout: Duration{10 * time.Second},
		},
	}
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with defaults.
// Environment variables take highest precedence and override values from the byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty or the file does not exist, only defaults and environment
// variables are used.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		return LoadFromBytes(nil)
	}

	return LoadFromBytes(data)
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if sinks := os.Getenv("NUTWATCH_SINKS"); sinks != "" {
		cfg.Sinks = splitList(sinks)
	}
	if level := os.Getenv("NUTWATCH_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if file := os.Getenv("NUTWATCH_LOG_FILE"); file != "" {
		cfg.Logging.File = file
	}
	if addr := os.Getenv("NUTWATCH_ADMIN_ADDR"); addr != "" {
		cfg.Admin.Addr = addr
		cfg.Admin.Enabled = true
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the values that cannot be caught while parsing.
func (c *Config) Validate() error {
	if len(c.Sinks) == 0 {
		return fmt.Errorf("at least one sink must be configured")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (want debug, info, warn or error)", c.Logging.Level)
	}
	if c.Dispatch.Timeout.Duration <= 0 {
		return fmt.Errorf("dispatch timeout must be positive (got: %s)", c.Dispatch.Timeout.Duration)
	}
	if c.Admin.Enabled && c.Admin.Addr == "" {
		return fmt.Errorf("admin address is required when the admin endpoint is enabled")
	}
	return nil
}
