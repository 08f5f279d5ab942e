// Package idempotency deduplicates progress event IDs consumed from the
// message bus, which delivers at least once. Without it a redelivered
// event would bump the watch count twice.
//
// Primary backend: Redis SETNX with TTL (env REDIS_URL).
// Fallback: Postgres INSERT ... ON CONFLICT (env DATABASE_URL).
// If neither is available, an in-memory store is used (development only).
package idempotency

import (
	"context"
	"errors"
	"time"
)

// Store checks whether an event has already been processed and marks it.
type Store interface {
	// Check returns true if eventID was already processed.
	// If not seen, it atomically marks it as processed.
	Check(ctx context.Context, eventID string) (duplicate bool, err error)

	// Seen reports whether eventID was already processed without marking
	// it. Consumers use it to defer the mark until the event has actually
	// been applied.
	Seen(ctx context.Context, eventID string) (bool, error)
}

// NewStore creates the best available idempotency store:
// Redis > Postgres > in-memory (dev fallback).
// When isProd is true, in-memory fallback is not allowed and the function
// returns nil with an error.
func NewStore(redisURL, databaseURL string, ttl time.Duration, isProd bool) (Store, error) {
	if redisURL != "" {
		return newRedisStore(redisURL, ttl), nil
	}
	if databaseURL != "" {
		return newPostgresStore(databaseURL, ttl), nil
	}
	if isProd {
		return nil, errors.New("production requires REDIS_URL or DATABASE_URL for idempotency; in-memory store is not allowed")
	}
	return newMemoryStore(), nil
}
