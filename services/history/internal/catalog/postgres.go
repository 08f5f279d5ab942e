package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog reads the videos table owned by the video service.
type PostgresCatalog struct {
	db *pgxpool.Pool
}

func NewPostgresCatalog(db *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) GetVideo(ctx context.Context, id string) (Video, error) {
	q := `
SELECT v.id, v.title, v.thumbnail, v.category, COALESCE(u.channel_name, ''), v.user_id
FROM videos v
LEFT JOIN users u ON u.id = v.user_id
WHERE v.id = $1`

	var v Video
	err := c.db.QueryRow(ctx, q, id).
		Scan(&v.ID, &v.Title, &v.Thumbnail, &v.Category, &v.ChannelName, &v.UploadedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Video{}, ErrNotFound
		}
		return Video{}, fmt.Errorf("catalog get: %w", err)
	}
	return v, nil
}

func (c *PostgresCatalog) Categories(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := c.db.Query(ctx, `SELECT id, category FROM videos WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, category string
		if err := rows.Scan(&id, &category); err != nil {
			return nil, fmt.Errorf("catalog categories scan: %w", err)
		}
		out[id] = category
	}
	return out, rows.Err()
}
