package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds everything the server binary needs. Values load from a
// YAML file and may then be overridden through environment variables for
// deployment without editing the file.
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		Workers uint   `yaml:"workers"`
	} `yaml:"server"`

	Engine struct {
		// Largest depth a snapshot request may ask for; bigger requests
		// are clamped, not rejected.
		MaxDepth int `yaml:"max_depth"`
	} `yaml:"engine"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"` // empty disables the file sink
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Console    bool   `yaml:"console"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.Server.Address = "0.0.0.0"
	cfg.Server.Port = 9001
	cfg.Server.Workers = 10
	cfg.Engine.MaxDepth = 50
	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 10
	cfg.Log.MaxBackups = 3
	cfg.Log.MaxAgeDays = 28
	cfg.Log.Console = true
	return &cfg
}

// Load reads and parses a config file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("HUGINN_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("HUGINN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HUGINN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Workers == 0 {
		return fmt.Errorf("at least one worker is required")
	}
	if c.Engine.MaxDepth <= 0 {
		return fmt.Errorf("engine max_depth must be positive: %d", c.Engine.MaxDepth)
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Log.Level)
	}
	return nil
}
