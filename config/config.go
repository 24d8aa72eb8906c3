package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Provider endpoints (empty = production defaults)
	AsterBaseURL     string
	AsterStreamURL   string
	HyperBaseURL     string
	HyperStreamURL   string
	EnabledProviders string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string
	LogLevel      string

	// Sync tuning
	TopSize       int
	Tier2Size     int
	SnapshotEvery time.Duration
	StreamBackoff time.Duration

	// Indicator scheduler tuning
	RateLimitMax    int
	RateLimitWindow time.Duration
	StepDelay       time.Duration
	RefreshEvery    time.Duration
	CapRankTTL      time.Duration

	// Per-band staleness thresholds: records younger than these are
	// skipped on refresh.
	StaleTop   time.Duration
	StaleTier2 time.Duration
	StaleTier3 time.Duration

	// Per-band inter-instrument pacing delays.
	BandDelayTop   time.Duration
	BandDelayTier2 time.Duration
	BandDelayTier3 time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		AsterBaseURL:     getEnv("ASTER_BASE_URL", ""),
		AsterStreamURL:   getEnv("ASTER_STREAM_URL", ""),
		HyperBaseURL:     getEnv("HYPER_BASE_URL", ""),
		HyperStreamURL:   getEnv("HYPER_STREAM_URL", ""),
		EnabledProviders: getEnv("PROVIDERS", "asterdex,hyperliquid"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/perpscope.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		TopSize:       getEnvInt("TOP_SIZE", 50),
		Tier2Size:     getEnvInt("TIER2_SIZE", 50),
		SnapshotEvery: getEnvDuration("SNAPSHOT_EVERY", 10*time.Second),
		StreamBackoff: getEnvDuration("STREAM_BACKOFF", 5*time.Second),

		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 20),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		StepDelay:       getEnvDuration("STEP_DELAY", 200*time.Millisecond),
		RefreshEvery:    getEnvDuration("REFRESH_EVERY", 5*time.Minute),
		CapRankTTL:      getEnvDuration("CAPRANK_TTL", 6*time.Hour),

		StaleTop:   getEnvDuration("STALE_TOP", 5*time.Minute),
		StaleTier2: getEnvDuration("STALE_TIER2", 15*time.Minute),
		StaleTier3: getEnvDuration("STALE_TIER3", 60*time.Minute),

		BandDelayTop:   getEnvDuration("BAND_DELAY_TOP", 250*time.Millisecond),
		BandDelayTier2: getEnvDuration("BAND_DELAY_TIER2", 500*time.Millisecond),
		BandDelayTier3: getEnvDuration("BAND_DELAY_TIER3", time.Second),
	}
}

// Providers parses the EnabledProviders string into a slice of provider names.
func (c *Config) Providers() []string {
	parts := strings.Split(c.EnabledProviders, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
