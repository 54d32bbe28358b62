// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Redis backs the optional click-manager WAL spillover; absent unless
	// CLICK_WAL_ENABLED is set.
	RedisURL        string `env:"REDIS_URL" envDefault:""`
	ClickWALEnabled bool   `env:"CLICK_WAL_ENABLED" envDefault:"false"`

	// Default redirect target for unresolved codes. Empty means a plain 404.
	DefaultRedirectURL string `env:"DEFAULT_REDIRECT_URL" envDefault:""`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Composite cache tuning
	RedirectCacheTTL       time.Duration `env:"REDIRECT_CACHE_TTL" envDefault:"5m"`
	NegativeCacheTTL       time.Duration `env:"NEGATIVE_CACHE_TTL" envDefault:"30s"`
	NegativeCacheCapacity  uint          `env:"NEGATIVE_CACHE_CAPACITY" envDefault:"100000"`
	BloomCapacity          uint          `env:"BLOOM_CAPACITY" envDefault:"1000000"`
	BloomFalsePositiveRate float64       `env:"BLOOM_FP_RATE" envDefault:"0.001"`

	// Click manager tuning
	ClickFlushInterval  time.Duration `env:"CLICK_FLUSH_INTERVAL" envDefault:"10s"`
	ClickFlushThreshold int           `env:"CLICK_FLUSH_THRESHOLD" envDefault:"1000"`

	// IPC control channel
	IPCSocketPath  string        `env:"IPC_SOCKET_PATH" envDefault:""`
	IPCIdleTimeout time.Duration `env:"IPC_IDLE_TIMEOUT" envDefault:"5m"`
	PIDFilePath    string        `env:"PID_FILE_PATH" envDefault:"./shortlinker.pid"`

	// Storage retry policy
	StorageMaxRetries int           `env:"STORAGE_MAX_RETRIES" envDefault:"3"`
	StorageBaseDelay  time.Duration `env:"STORAGE_BASE_DELAY" envDefault:"100ms"`
	StorageMaxDelay   time.Duration `env:"STORAGE_MAX_DELAY" envDefault:"5s"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
