// Package cache provides a best-effort Redis cache for analytics reports.
// It is advisory only: every failure degrades to a cache miss so the API
// keeps answering from the store.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "history:analytics:"

// DefaultTTL bounds report staleness when invalidation is missed.
const DefaultTTL = 5 * time.Minute

// Reports caches one serialized analytics report per user.
type Reports interface {
	// Get unmarshals the cached report for user into dest. A miss, an
	// expired key or any backend failure all return false.
	Get(ctx context.Context, user string, dest any) bool
	// Set stores the report. Failures are logged and swallowed.
	Set(ctx context.Context, user string, v any)
	// Invalidate drops the cached report after a history mutation.
	Invalidate(ctx context.Context, user string)
}

// RedisReports backs Reports with a Redis instance.
type RedisReports struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisReports(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisReports {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisReports{client: client, ttl: ttl, log: log}
}

func (r *RedisReports) Get(ctx context.Context, user string, dest any) bool {
	raw, err := r.client.Get(ctx, keyPrefix+user).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("analytics cache read failed", zap.String("user", user), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		r.log.Warn("analytics cache entry corrupt", zap.String("user", user), zap.Error(err))
		return false
	}
	return true
}

func (r *RedisReports) Set(ctx context.Context, user string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		r.log.Warn("analytics cache encode failed", zap.String("user", user), zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, keyPrefix+user, raw, r.ttl).Err(); err != nil {
		r.log.Warn("analytics cache write failed", zap.String("user", user), zap.Error(err))
	}
}

func (r *RedisReports) Invalidate(ctx context.Context, user string) {
	if err := r.client.Del(ctx, keyPrefix+user).Err(); err != nil {
		r.log.Warn("analytics cache invalidation failed", zap.String("user", user), zap.Error(err))
	}
}

// NoopReports is the cache used when Redis is not configured.
type NoopReports struct{}

func (NoopReports) Get(context.Context, string, any) bool { return false }
func (NoopReports) Set(context.Context, string, any)      {}
func (NoopReports) Invalidate(context.Context, string)    {}

var (
	_ Reports = (*RedisReports)(nil)
	_ Reports = NoopReports{}
)
