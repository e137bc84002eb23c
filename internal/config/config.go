package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type Config struct {
	ClaudeBinary          string        `yaml:"claude_binary"`
	DefaultModel          string        `yaml:"default_model"`
	DefaultTimeoutSeconds int           `yaml:"default_timeout_seconds"`
	DefaultMaxRetries     int           `yaml:"default_max_retries"`
	JSONRetries           int           `yaml:"json_retries"`
	MaxConcurrent         int64         `yaml:"max_concurrent"`
	RatePerSecond         float64       `yaml:"rate_per_second"`
	RateBurst             int           `yaml:"rate_burst"`
	LogLevel              string        `yaml:"log_level"`
	LogFormat             string        `yaml:"log_format"`
	Journal               JournalConfig `yaml:"journal"`
}

func Dir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".claude-mcp")
}

func FilePath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func Default() *Config {
	return &Config{
		ClaudeBinary:          "claude",
		DefaultModel:          "sonnet",
		DefaultTimeoutSeconds: 300,
		DefaultMaxRetries:     3,
		JSONRetries:           3,
		MaxConcurrent:         8,
		RatePerSecond:         10,
		RateBurst:             20,
		LogLevel:              "info",
		LogFormat:             "text",
		Journal: JournalConfig{
			Enabled:       true,
			DBPath:        filepath.Join(Dir(), "journal.db"),
			RetentionDays: 30,
		},
	}
}

// Load returns the defaults overlaid with the config file, when one exists.
// A missing file is not an error; an unparseable one is.
func Load() (*Config, error) {
	return LoadFile(FilePath())
}

func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("default_timeout_seconds must be positive")
	}
	if c.DefaultMaxRetries < 1 {
		return fmt.Errorf("default_max_retries must be at least 1")
	}
	if c.JSONRetries < 1 {
		return fmt.Errorf("json_retries must be at least 1")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	return os.MkdirAll(Dir(), 0700)
}
