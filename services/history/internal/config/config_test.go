package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"HISTORY_MAX_ENTRIES", "JWT_SECRET", "METADATA_API_KEY",
		"REDIS_URL", "ANALYTICS_CACHE_TTL", "IDEMPOTENCY_TTL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.MaxEntries != 100 {
		t.Fatalf("MaxEntries = %d, want 100", cfg.MaxEntries)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("CacheTTL = %v, want 5m", cfg.CacheTTL)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("IdempotencyTTL = %v, want 24h", cfg.IdempotencyTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HISTORY_MAX_ENTRIES", "250")
	t.Setenv("ANALYTICS_CACHE_TTL", "30s")

	cfg := Load()
	if cfg.MaxEntries != 250 {
		t.Fatalf("MaxEntries = %d, want 250", cfg.MaxEntries)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Fatalf("CacheTTL = %v, want 30s", cfg.CacheTTL)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Setenv("HISTORY_MAX_ENTRIES", "-3")
	t.Setenv("ANALYTICS_CACHE_TTL", "soon")

	cfg := Load()
	if cfg.MaxEntries != 100 {
		t.Fatalf("MaxEntries = %d, want default 100", cfg.MaxEntries)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("CacheTTL = %v, want default 5m", cfg.CacheTTL)
	}
}
