package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Sandbox   SandboxConfig
	Preview   PreviewConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// AllowedOrigins are the frontends allowed to call the API
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SandboxConfig holds isolated execution limits.
type SandboxConfig struct {
	Timeout          time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"3s"`
	MaxCallStackSize int           `envconfig:"SANDBOX_MAX_CALL_STACK" default:"1024"`
}

// PreviewConfig holds document preview settings.
type PreviewConfig struct {
	LiveReload bool          `envconfig:"PREVIEW_LIVE_RELOAD" default:"true"`
	Debounce   time.Duration `envconfig:"PREVIEW_DEBOUNCE" default:"500ms"`
	Markers    []string      `envconfig:"PREVIEW_MARKERS" default:"web,site,www,public,preview"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects limits the sandbox cannot honour.
func (c *Config) Validate() error {
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("SANDBOX_TIMEOUT must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.MaxCallStackSize <= 0 {
		return fmt.Errorf("SANDBOX_MAX_CALL_STACK must be positive, got %d", c.Sandbox.MaxCallStackSize)
	}
	if c.Preview.Debounce < 0 {
		return fmt.Errorf("PREVIEW_DEBOUNCE must not be negative, got %s", c.Preview.Debounce)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8000",
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			Timeout:          3 * time.Second,
			MaxCallStackSize: 1024,
		},
		Preview: PreviewConfig{
			LiveReload: true,
			Debounce:   500 * time.Millisecond,
			Markers:    []string{"web", "site", "www", "public", "preview"},
		},
	}
}
