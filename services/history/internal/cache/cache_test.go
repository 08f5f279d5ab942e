package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// An unreachable backend must behave like a permanent cache miss, never
// an error surfaced to callers.
func TestRedisReportsFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1", // nothing listens here
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	c := NewRedisReports(client, time.Minute, nil)
	ctx := context.Background()

	var dest map[string]any
	if c.Get(ctx, "u1", &dest) {
		t.Fatal("Get against a dead backend reported a hit")
	}
	// Set and Invalidate must not panic or block.
	c.Set(ctx, "u1", map[string]int{"totalWatchTime": 10})
	c.Invalidate(ctx, "u1")
}

func TestNoopReports(t *testing.T) {
	var c Reports = NoopReports{}
	ctx := context.Background()

	c.Set(ctx, "u1", map[string]int{"x": 1})
	var dest map[string]int
	if c.Get(ctx, "u1", &dest) {
		t.Fatal("noop cache reported a hit")
	}
	c.Invalidate(ctx, "u1")
}

func TestDefaultTTLApplied(t *testing.T) {
	c := NewRedisReports(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), 0, nil)
	if c.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", c.ttl, DefaultTTL)
	}
}
