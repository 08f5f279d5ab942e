package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresHistoryStore is the production Postgres-backed implementation.
// The upsert relies on ON CONFLICT for atomicity, so concurrent saves for
// the same (user, video, platform) converge last-write-wins with a single
// watch_count increment per call.
type PostgresHistoryStore struct {
	db         *pgxpool.Pool
	maxEntries int
	log        *zap.Logger
}

func NewPostgresHistoryStore(db *pgxpool.Pool, maxEntries int, log *zap.Logger) *PostgresHistoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PostgresHistoryStore{db: db, maxEntries: maxEntries, log: log}
}

const schema = `
CREATE TABLE IF NOT EXISTS watch_history (
  user_id          TEXT NOT NULL,
  video_id         TEXT NOT NULL,
  platform         TEXT NOT NULL,
  title            TEXT NOT NULL DEFAULT '',
  thumbnail        TEXT NOT NULL DEFAULT '',
  channel_name     TEXT NOT NULL DEFAULT '',
  uploaded_by      TEXT NOT NULL DEFAULT '',
  progress         INT  NOT NULL DEFAULT 0,
  duration         INT  NOT NULL DEFAULT 0,
  watch_count      INT  NOT NULL DEFAULT 0,
  completed        BOOLEAN NOT NULL DEFAULT FALSE,
  watched_at       TIMESTAMPTZ NOT NULL,
  first_watched_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (user_id, video_id, platform)
);
CREATE INDEX IF NOT EXISTS watch_history_user_recency_idx
  ON watch_history (user_id, watched_at DESC);
`

// EnsureSchema creates the watch_history table when it does not exist.
func (s *PostgresHistoryStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("history schema: %w", err)
	}
	return nil
}

const entryColumns = `video_id, platform, title, thumbnail, channel_name, uploaded_by,
progress, duration, watch_count, completed, watched_at, first_watched_at`

func scanEntry(row pgx.Row, user string) (Entry, error) {
	e := Entry{User: user}
	err := row.Scan(&e.VideoID, &e.Platform, &e.Title, &e.Thumbnail, &e.ChannelName,
		&e.UploadedBy, &e.Progress, &e.Duration, &e.WatchCount, &e.Completed,
		&e.WatchedAt, &e.FirstWatchedAt)
	return e, err
}

func (s *PostgresHistoryStore) Upsert(ctx context.Context, p UpsertParams) (Entry, bool, error) {
	if p.Progress < MinWatchTime {
		return Entry{}, false, nil
	}

	completed := p.Duration > 0 && float64(p.Progress)/float64(p.Duration) >= CompletedThreshold

	q := `
INSERT INTO watch_history (user_id, ` + entryColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11, $11)
ON CONFLICT (user_id, video_id, platform)
DO UPDATE SET
  title        = EXCLUDED.title,
  thumbnail    = EXCLUDED.thumbnail,
  channel_name = EXCLUDED.channel_name,
  uploaded_by  = EXCLUDED.uploaded_by,
  progress     = EXCLUDED.progress,
  duration     = EXCLUDED.duration,
  completed    = EXCLUDED.completed,
  watched_at   = EXCLUDED.watched_at,
  watch_count  = watch_history.watch_count + 1
RETURNING ` + entryColumns

	row := s.db.QueryRow(ctx, q,
		p.User, p.VideoID, p.Platform, p.Title, p.Thumbnail, p.ChannelName,
		p.UploadedBy, p.Progress, p.Duration, completed, now(),
	)
	e, err := scanEntry(row, p.User)
	if err != nil {
		return Entry{}, false, fmt.Errorf("history upsert: %w", err)
	}

	// Retention is best-effort: a failed trim never fails the save.
	if err := s.evict(ctx, p.User); err != nil {
		s.log.Warn("history eviction failed", zap.String("user", p.User), zap.Error(err))
	}
	return e, true, nil
}

// evict deletes entries beyond the per-user cap, oldest watched_at first;
// ties delete the smaller video_id first.
func (s *PostgresHistoryStore) evict(ctx context.Context, user string) error {
	q := `
DELETE FROM watch_history
WHERE user_id = $1
  AND (video_id, platform) NOT IN (
    SELECT video_id, platform FROM watch_history
    WHERE user_id = $1
    ORDER BY watched_at DESC, video_id DESC
    LIMIT $2
  )`
	_, err := s.db.Exec(ctx, q, user, s.maxEntries)
	return err
}

func (s *PostgresHistoryStore) List(ctx context.Context, p ListParams) ([]Entry, int, error) {
	page, size := clampPage(p)

	where := " WHERE user_id = $1"
	args := []any{p.User}
	if p.Platform != "" {
		where += " AND platform = $2"
		args = append(args, p.Platform)
	}

	var total int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM watch_history"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("history count: %w", err)
	}

	q := "SELECT " + entryColumns + " FROM watch_history" + where +
		" ORDER BY watched_at DESC, video_id DESC" +
		" LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, size, (page-1)*size)

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("history list: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows, p.User)
		if err != nil {
			return nil, 0, fmt.Errorf("history list scan: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *PostgresHistoryStore) Get(ctx context.Context, user, videoID string, platform Platform) (Entry, error) {
	q := "SELECT " + entryColumns + ` FROM watch_history
WHERE user_id = $1 AND video_id = $2 AND platform = $3`
	e, err := scanEntry(s.db.QueryRow(ctx, q, user, videoID, platform), user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("history get: %w", err)
	}
	return e, nil
}

func (s *PostgresHistoryStore) Delete(ctx context.Context, user, videoID string, platform Platform) (Entry, error) {
	q := `DELETE FROM watch_history
WHERE user_id = $1 AND video_id = $2 AND platform = $3
RETURNING ` + entryColumns
	e, err := scanEntry(s.db.QueryRow(ctx, q, user, videoID, platform), user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("history delete: %w", err)
	}
	return e, nil
}

func (s *PostgresHistoryStore) Clear(ctx context.Context, user string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM watch_history WHERE user_id = $1`, user)
	if err != nil {
		return 0, fmt.Errorf("history clear: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresHistoryStore) ListAll(ctx context.Context, user string) ([]Entry, error) {
	q := "SELECT " + entryColumns + ` FROM watch_history
WHERE user_id = $1
ORDER BY watched_at DESC, video_id DESC`
	rows, err := s.db.Query(ctx, q, user)
	if err != nil {
		return nil, fmt.Errorf("history list all: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows, user)
		if err != nil {
			return nil, fmt.Errorf("history list all scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
