// Package config loads process configuration from the environment, with a
// .env file honored in development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full process configuration.
type Config struct {
	// Origin is the page origin the relay accepts traffic from.
	Origin string `envconfig:"BIFROST_ORIGIN" default:"https://app.bifrost.local"`
	// Version is reported in extension presence checks.
	Version string `envconfig:"BIFROST_VERSION" default:"dev"`

	RedisURL    string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	VerifierURL string `envconfig:"VERIFIER_URL" default:"http://localhost:9000"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":9000"`
	ChainID     uint64 `envconfig:"CHAIN_ID" default:"1"`

	Logging LoggingConfig
	Health  HealthConfig
}

// LoggingConfig tunes zap.
type LoggingConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// HealthConfig tunes the executor health monitor.
type HealthConfig struct {
	CacheTTL      time.Duration `envconfig:"HEALTH_CACHE_TTL" default:"5s"`
	CheckInterval time.Duration `envconfig:"HEALTH_CHECK_INTERVAL" default:"30s"`
	BackoffBase   time.Duration `envconfig:"HEALTH_BACKOFF_BASE" default:"200ms"`
	BackoffMax    time.Duration `envconfig:"HEALTH_BACKOFF_MAX" default:"5s"`
	MaxAttempts   int           `envconfig:"HEALTH_MAX_ATTEMPTS" default:"5"`
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in defaults without touching the environment.
func Default() *Config {
	return &Config{
		Origin:      "https://app.bifrost.local",
		Version:     "dev",
		RedisURL:    "redis://localhost:6379/0",
		VerifierURL: "http://localhost:9000",
		ListenAddr:  ":9000",
		ChainID:     1,
		Logging:     LoggingConfig{Level: "info"},
		Health: HealthConfig{
			CacheTTL:      5 * time.Second,
			CheckInterval: 30 * time.Second,
			BackoffBase:   200 * time.Millisecond,
			BackoffMax:    5 * time.Second,
			MaxAttempts:   5,
		},
	}
}
