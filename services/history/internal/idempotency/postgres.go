package idempotency

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	dsn string
	ttl time.Duration
	// pool is lazily initialised on first Check call.
	pool *pgxpool.Pool
}

func newPostgresStore(dsn string, ttl time.Duration) *postgresStore {
	return &postgresStore{dsn: dsn, ttl: ttl}
}

func (s *postgresStore) ensurePool(ctx context.Context) error {
	if s.pool != nil {
		return nil
	}
	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return err
	}
	s.pool = pool
	return nil
}

func (s *postgresStore) ensureTable(ctx context.Context) error {
	if err := s.ensurePool(ctx); err != nil {
		return err
	}
	const ensure = `CREATE TABLE IF NOT EXISTS processed_progress_events (
	    event_id   TEXT PRIMARY KEY,
	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	_, err := s.pool.Exec(ctx, ensure)
	return err
}

// Check uses INSERT ... ON CONFLICT to atomically deduplicate.
func (s *postgresStore) Check(ctx context.Context, eventID string) (bool, error) {
	if err := s.ensureTable(ctx); err != nil {
		return false, err
	}

	const q = `INSERT INTO processed_progress_events (event_id, created_at)
	           VALUES ($1, now())
	           ON CONFLICT (event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, eventID)
	if err != nil {
		return false, err
	}
	// RowsAffected == 0 means the row already existed (duplicate).
	return tag.RowsAffected() == 0, nil
}

func (s *postgresStore) Seen(ctx context.Context, eventID string) (bool, error) {
	if err := s.ensureTable(ctx); err != nil {
		return false, err
	}

	var seen bool
	const q = `SELECT EXISTS (SELECT 1 FROM processed_progress_events WHERE event_id = $1)`
	if err := s.pool.QueryRow(ctx, q, eventID).Scan(&seen); err != nil {
		return false, err
	}
	return seen, nil
}
