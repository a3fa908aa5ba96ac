// Package config loads application configuration from an optional YAML
// file overlaid with environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jfigueroa88/muselink/internal/constants"
)

// Duration is a time.Duration that decodes from the human-readable YAML
// form ("200ms", "2s"), which the yaml package cannot do on its own.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config holds all application configuration.
type Config struct {
	Port             string   `yaml:"port"`
	DBPath           string   `yaml:"db_path"`
	DownloadsDir     string   `yaml:"downloads_dir"`
	PathTemplate     string   `yaml:"path_template"`
	MaxConcurrent    int64    `yaml:"max_concurrent"`
	ProgressInterval Duration `yaml:"progress_interval"`
	LogLevel         string   `yaml:"log_level"`
	LogFormat        string   `yaml:"log_format"`
}

func defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Port:             constants.DefaultPort,
		DBPath:           constants.DefaultDBPath,
		DownloadsDir:     filepath.Join(home, "Music/muselink"),
		PathTemplate:     constants.DefaultPathTemplate,
		MaxConcurrent:    constants.DefaultConcurrency,
		ProgressInterval: Duration(constants.DefaultProgressInterval),
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// MUSELINK_CONFIG (if set), then environment variable overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("MUSELINK_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.DownloadsDir = getEnv("DOWNLOADS_DIR", cfg.DownloadsDir)
	cfg.PathTemplate = getEnv("PATH_TEMPLATE", cfg.PathTemplate)
	cfg.MaxConcurrent = getEnvInt("MAX_CONCURRENT", cfg.MaxConcurrent)
	cfg.ProgressInterval = getEnvDuration("PROGRESS_INTERVAL", cfg.ProgressInterval)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

// Validate checks the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Port == "" {
		problems = append(problems, "port must not be empty")
	} else if n, err := strconv.Atoi(c.Port); err != nil || n < 1 || n > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %q", c.Port))
	}

	if c.DBPath == "" {
		problems = append(problems, "db_path must not be empty")
	}
	if c.DownloadsDir == "" {
		problems = append(problems, "downloads_dir must not be empty")
	}
	if c.MaxConcurrent < 1 {
		problems = append(problems, fmt.Sprintf("max_concurrent must be at least 1, got %d", c.MaxConcurrent))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("invalid log_level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("invalid log_format %q", c.LogFormat))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback Duration) Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return Duration(d)
		}
	}
	return fallback
}
