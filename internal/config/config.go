package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/alfred-dev/control-sidecar/internal/control"
)

// Config holds everything needed to stand up the sidecar process: its own
// HTTP surface plus the aggregator tuning loaded from the backend's
// service config file.
type Config struct {
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	RedisURL string

	ServiceName string
	BackendURL  string

	ConfigFile string

	LogLevel string

	Aggregator control.AggregatorConfig
}

// Load reads configuration from environment variables and an optional
// .env file, then layers the aggregator tuning from the file named by
// ENDPOINTS_SERVER_CONFIG_FILE on top of the defaults.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("SIDECAR_GRACEFUL_TIMEOUT_SEC", 15)
	configFile := getEnv("ENDPOINTS_SERVER_CONFIG_FILE", "")

	cfg := &Config{
		Addr:            getEnv("SIDECAR_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,
		RedisURL:        getEnv("REDIS_URL", ""),
		ServiceName:     getEnv("SERVICE_NAME", "control-sidecar.example.com"),
		BackendURL:      getEnv("BACKEND_URL", "http://localhost:8000"),
		ConfigFile:      configFile,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Aggregator:      control.DefaultAggregatorConfig(),
	}

	if configFile != "" {
		if loaded, err := loadAggregatorConfig(configFile); err == nil {
			cfg.Aggregator = loaded
		}
		// A missing or unparseable file is not fatal: the sidecar falls
		// back to DefaultAggregatorConfig, matching the "fail open"
		// posture applied everywhere else in this service.
	}
	cfg.Aggregator.Normalize()

	return cfg
}

// fileAggregatorConfig mirrors the subset of the service config JSON this
// sidecar understands. Each section is optional and, when absent, keeps
// control.DefaultAggregatorConfig's values; a present section replaces
// all of its fields, and a field missing from it reads as zero.
type fileAggregatorConfig struct {
	Check *struct {
		CacheEntries            int   `json:"cacheEntries"`
		ResponseExpirationMs    int64 `json:"responseExpirationMs"`
		FlushIntervalMs         int64 `json:"flushIntervalMs"`
	} `json:"checkAggregator"`
	Quota *struct {
		CacheEntries    int   `json:"cacheEntries"`
		ExpirationMs    int64 `json:"expirationMs"`
		FlushIntervalMs int64 `json:"flushIntervalMs"`
	} `json:"quotaAggregator"`
	Report *struct {
		CacheEntries    int   `json:"cacheEntries"`
		FlushIntervalMs int64 `json:"flushIntervalMs"`
	} `json:"reportAggregator"`
}

func loadAggregatorConfig(path string) (control.AggregatorConfig, error) {
	cfg := control.DefaultAggregatorConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	var parsed fileAggregatorConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return cfg, err
	}

	if c := parsed.Check; c != nil {
		cfg.Check.CacheEntries = c.CacheEntries
		cfg.Check.ResponseExpiration = time.Duration(c.ResponseExpirationMs) * time.Millisecond
		cfg.Check.FlushInterval = time.Duration(c.FlushIntervalMs) * time.Millisecond
	}
	if q := parsed.Quota; q != nil {
		cfg.Quota.CacheEntries = q.CacheEntries
		cfg.Quota.Expiration = time.Duration(q.ExpirationMs) * time.Millisecond
		cfg.Quota.FlushInterval = time.Duration(q.FlushIntervalMs) * time.Millisecond
	}
	if r := parsed.Report; r != nil {
		cfg.Report.CacheEntries = r.CacheEntries
		cfg.Report.FlushInterval = time.Duration(r.FlushIntervalMs) * time.Millisecond
	}
	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
