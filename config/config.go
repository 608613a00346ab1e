// Package config provides configuration management for the demo server.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the demo server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string `yaml:"port"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DatabaseConfig holds the extension's engine configuration.
type DatabaseConfig struct {
	// URL is the default engine URL (sqlite:// or postgres://).
	URL string `yaml:"url"`
	// Binds maps bind keys to additional database URLs.
	Binds map[string]string `yaml:"binds"`
	// CommitOnTeardown commits request sessions on handler success.
	CommitOnTeardown bool `yaml:"commit_on_teardown"`
	// RecordQueries enables per-request statement recording.
	RecordQueries bool `yaml:"record_queries"`
}

// CacheConfig selects the pagination count cache backend.
type CacheConfig struct {
	// Backend is "none", "local", or "redis".
	Backend string `yaml:"backend"`
	// RedisURL is required when Backend is "redis".
	RedisURL string `yaml:"redis_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			MetricsEndpoint: "/metrics",
		},
		Database: DatabaseConfig{
			URL:              "sqlite://data/todod.db",
			CommitOnTeardown: true,
		},
		Cache: CacheConfig{
			Backend: "local",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, in increasing precedence. A .env file in the
// working directory is read first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisURL == "" {
		return nil, fmt.Errorf("cache backend is redis but no redis URL is configured")
	}
	return cfg, nil
}

// applyEnv overrides config fields from the environment.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setBool(&cfg.Server.MetricsEnabled, "METRICS_ENABLED")
	setString(&cfg.Server.MetricsEndpoint, "METRICS_ENDPOINT")

	setString(&cfg.Database.URL, "DATABASE_URL")
	setBool(&cfg.Database.CommitOnTeardown, "COMMIT_ON_TEARDOWN")
	setBool(&cfg.Database.RecordQueries, "RECORD_QUERIES")

	setString(&cfg.Cache.Backend, "CACHE_BACKEND")
	setString(&cfg.Cache.RedisURL, "REDIS_URL")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
