// Package config loads the history service's own settings; the shared
// HTTP/logging settings come from the platform config.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// MaxEntries caps the number of history rows kept per user.
	MaxEntries int
	// JWTSecret verifies user tokens. Required outside development.
	JWTSecret string
	// MetadataAPIKey enables the external metadata provider. Empty means
	// saves fall back to placeholder metadata.
	MetadataAPIKey string
	// MetadataBaseURL overrides the provider endpoint (tests, proxies).
	MetadataBaseURL string
	// RedisURL enables the analytics report cache and event dedup.
	RedisURL string
	// CacheTTL bounds analytics report staleness.
	CacheTTL time.Duration
	// DatabaseURL is shared with the platform db package; kept here for
	// the idempotency fallback path.
	DatabaseURL string
	// IdempotencyTTL bounds how long processed event IDs are remembered.
	IdempotencyTTL time.Duration
}

func Load() Config {
	return Config{
		MaxEntries:      envInt("HISTORY_MAX_ENTRIES", 100),
		JWTSecret:       strings.TrimSpace(os.Getenv("JWT_SECRET")),
		MetadataAPIKey:  strings.TrimSpace(os.Getenv("METADATA_API_KEY")),
		MetadataBaseURL: strings.TrimSpace(os.Getenv("METADATA_BASE_URL")),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:        envDuration("ANALYTICS_CACHE_TTL", 5*time.Minute),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		IdempotencyTTL:  envDuration("IDEMPOTENCY_TTL", 24*time.Hour),
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
