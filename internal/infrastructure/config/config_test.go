package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.Equal(t, 3*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 1024, cfg.Sandbox.MaxCallStackSize)
	assert.True(t, cfg.Preview.LiveReload)
	assert.Equal(t, 500*time.Millisecond, cfg.Preview.Debounce)
	assert.Equal(t, []string{"web", "site", "www", "public", "preview"}, cfg.Preview.Markers)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                   "9000",
		"HOST":                   "127.0.0.1",
		"ALLOWED_ORIGINS":        "http://ide.local",
		"LOG_LEVEL":              "debug",
		"LOG_DEV":                "true",
		"RATE_LIMIT_RPS":         "500",
		"RATE_LIMIT_BURST":       "1000",
		"RATE_LIMIT_ENABLED":     "false",
		"SANDBOX_TIMEOUT":        "750ms",
		"SANDBOX_MAX_CALL_STACK": "256",
		"PREVIEW_LIVE_RELOAD":    "false",
		"PREVIEW_DEBOUNCE":       "1s",
		"PREVIEW_MARKERS":        "frontend,static",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, []string{"http://ide.local"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 750*time.Millisecond, cfg.Sandbox.Timeout)
	assert.Equal(t, 256, cfg.Sandbox.MaxCallStackSize)
	assert.False(t, cfg.Preview.LiveReload)
	assert.Equal(t, time.Second, cfg.Preview.Debounce)
	assert.Equal(t, []string{"frontend", "static"}, cfg.Preview.Markers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparseable duration", "SANDBOX_TIMEOUT", "soon"},
		{"zero timeout", "SANDBOX_TIMEOUT", "0s"},
		{"negative stack", "SANDBOX_MAX_CALL_STACK", "-1"},
		{"negative debounce", "PREVIEW_DEBOUNCE", "-5ms"},
		{"bad bool", "PREVIEW_LIVE_RELOAD", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)

			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}
