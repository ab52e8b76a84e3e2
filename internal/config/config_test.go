package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
)

var envKeys = []string{
	"DATA_DIR", "API_BASE_URL", "API_TOKEN", "HEALTH_URL", "LISTEN_ADDR", "LOG_LEVEL",
	"SYNC_INTERVAL", "PROBE_INTERVAL", "REQUEST_TIMEOUT", "MAX_RETRIES", "BACKOFF_BASE",
	"BACKOFF_MAX", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CACHE_HOT_SIZE", "CACHE_HOT_TTL",
	"COALESCE_UPDATES",
}

// clearEnvVars blanks every key; empty values read as unset.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// TestLoad tests configuration loading from environment
func TestLoad(t *testing.T) {
	t.Run("loads defaults", func(t *testing.T) {
		clearEnvVars(t)
		t.Setenv("API_BASE_URL", "https://api.example.com")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "./data", cfg.DataDir)
		assert.Equal(t, "127.0.0.1:8090", cfg.ListenAddr)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, time.Minute, cfg.SyncInterval)
		assert.Equal(t, 15*time.Second, cfg.ProbeInterval)
		assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
		assert.Equal(t, 8, cfg.MaxRetries)
		assert.Equal(t, 2*time.Second, cfg.BackoffBase)
		assert.Equal(t, 5*time.Minute, cfg.BackoffMax)
		assert.Equal(t, 10.0, cfg.RateLimitRPS)
		assert.Equal(t, 5, cfg.RateLimitBurst)
		assert.Equal(t, 256, cfg.CacheHotSize)
		assert.Equal(t, time.Minute, cfg.CacheHotTTL)
		assert.False(t, cfg.CoalesceUpdates)
	})

	t.Run("loads from environment variables", func(t *testing.T) {
		clearEnvVars(t)
		t.Setenv("API_BASE_URL", "https://api.example.com")
		t.Setenv("HEALTH_URL", "https://api.example.com/health")
		t.Setenv("DATA_DIR", "/var/lib/careunity")
		t.Setenv("MAX_RETRIES", "0")
		t.Setenv("BACKOFF_BASE", "500ms")
		t.Setenv("BACKOFF_MAX", "1m")
		t.Setenv("COALESCE_UPDATES", "true")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "/var/lib/careunity", cfg.DataDir)
		assert.Equal(t, "https://api.example.com/health", cfg.HealthURL)
		assert.Equal(t, "debug", cfg.LogLevel)

		qc := cfg.QueueConfig()
		assert.Equal(t, 0, qc.MaxRetries)
		assert.Equal(t, 500*time.Millisecond, qc.BackoffBase)
		assert.Equal(t, time.Minute, qc.BackoffMax)
		assert.True(t, qc.Coalesce)
	})

	t.Run("requires API_BASE_URL", func(t *testing.T) {
		clearEnvVars(t)

		cfg, err := Load()

		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
		assert.Contains(t, err.Error(), "APIBaseURL")
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		tests := []struct {
			key, value string
		}{
			{"SYNC_INTERVAL", "soon"},
			{"SYNC_INTERVAL", "0s"},
			{"MAX_RETRIES", "many"},
			{"MAX_RETRIES", "-1"},
			{"RATE_LIMIT_RPS", "fast"},
			{"COALESCE_UPDATES", "maybe"},
			{"HEALTH_URL", "not a url"},
			{"LOG_LEVEL", "verbose"},
			{"BACKOFF_MAX", "1s"},
		}
		for _, tt := range tests {
			t.Run(tt.key+"="+tt.value, func(t *testing.T) {
				clearEnvVars(t)
				t.Setenv("API_BASE_URL", "https://api.example.com")
				t.Setenv(tt.key, tt.value)

				_, err := Load()
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
			})
		}
	})
}
