// Package config loads the sync daemon configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/queue"
)

// Config holds the application configuration
type Config struct {
	DataDir         string `validate:"required"`
	APIBaseURL      string `validate:"required,url"`
	APIToken        string
	HealthURL       string        `validate:"omitempty,url"`
	ListenAddr      string        `validate:"required,hostname_port"`
	LogLevel        string        `validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	SyncInterval    time.Duration `validate:"gt=0"`
	ProbeInterval   time.Duration `validate:"gt=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`
	MaxRetries      int           `validate:"gte=0"`
	BackoffBase     time.Duration `validate:"gte=0"`
	BackoffMax      time.Duration `validate:"gtefield=BackoffBase"`
	RateLimitRPS    float64       `validate:"gte=0"`
	RateLimitBurst  int           `validate:"gte=0"`
	CacheHotSize    int           `validate:"gte=0"`
	CacheHotTTL     time.Duration `validate:"gte=0"`
	CoalesceUpdates bool
}

// Load loads the configuration from a .env file, if present, and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:    getEnv("DATA_DIR", "./data"),
		APIBaseURL: getEnv("API_BASE_URL", ""),
		APIToken:   getEnv("API_TOKEN", ""),
		HealthURL:  getEnv("HEALTH_URL", ""),
		ListenAddr: getEnv("LISTEN_ADDR", "127.0.0.1:8090"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	var err error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"SYNC_INTERVAL", time.Minute, &cfg.SyncInterval},
		{"PROBE_INTERVAL", 15 * time.Second, &cfg.ProbeInterval},
		{"REQUEST_TIMEOUT", 30 * time.Second, &cfg.RequestTimeout},
		{"BACKOFF_BASE", 2 * time.Second, &cfg.BackoffBase},
		{"BACKOFF_MAX", 5 * time.Minute, &cfg.BackoffMax},
		{"CACHE_HOT_TTL", time.Minute, &cfg.CacheHotTTL},
	}
	for _, d := range durations {
		if *d.dest, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"MAX_RETRIES", 8, &cfg.MaxRetries},
		{"RATE_LIMIT_BURST", 5, &cfg.RateLimitBurst},
		{"CACHE_HOT_SIZE", 256, &cfg.CacheHotSize},
	}
	for _, i := range ints {
		if *i.dest, err = getInt(i.key, i.def); err != nil {
			return nil, err
		}
	}

	if cfg.RateLimitRPS, err = getFloat("RATE_LIMIT_RPS", 10); err != nil {
		return nil, err
	}
	if cfg.CoalesceUpdates, err = getBool("COALESCE_UPDATES", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "invalid configuration", err)
	}
	return nil
}

// QueueConfig returns the retry policy for the sync queue.
func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		MaxRetries:  c.MaxRetries,
		BackoffBase: c.BackoffBase,
		BackoffMax:  c.BackoffMax,
		Coalesce:    c.CoalesceUpdates,
	}
}

// getEnv retrieves an environment variable or returns a default value; empty counts as unset
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, invalid(key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, invalid(key, err)
	}
	return f, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalid(key, err)
	}
	return b, nil
}

func invalid(key string, err error) error {
	return apperrors.Wrap(apperrors.ErrConfig, fmt.Sprintf("invalid %s value", key), err)
}
