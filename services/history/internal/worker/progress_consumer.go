// Package worker consumes playback progress events published by edge
// clients and applies them to the history store. Delivery is at least
// once; the idempotency store keeps replays from bumping watch counts.
package worker

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/video-platform/services/history/internal/idempotency"
	"github.com/example/video-platform/services/history/internal/store"
)

// ProgressEvent is the payload published on history.progress.
type ProgressEvent struct {
	EventID     string `json:"event_id"`
	UserID      string `json:"user_id"`
	VideoID     string `json:"video_id"`
	Platform    string `json:"platform"`
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	ChannelName string `json:"channel_name"`
	UploadedBy  string `json:"uploaded_by"`
	Progress    int    `json:"progress"`
	Duration    int    `json:"duration"`
}

const (
	subject = "history.progress"
	durable = "history_progress"
)

// StartProgressConsumer subscribes to history.progress and applies
// idempotent upserts to the history store. It returns without starting a
// loop when the subscription cannot be established; the HTTP path keeps
// working either way.
func StartProgressConsumer(ctx context.Context, nc *nats.Conn, st store.HistoryStore, dedup idempotency.Store, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}

	js, err := nc.JetStream()
	if err != nil {
		log.Error("progress consumer: jetstream unavailable", zap.Error(err))
		return
	}

	sub, err := js.PullSubscribe(subject, durable)
	if err != nil {
		log.Error("progress consumer: subscribe failed", zap.String("subject", subject), zap.Error(err))
		return
	}

	go func() {
		batchSize := envInt("WORKER_BATCH_SIZE", 100)
		maxWait := time.Duration(envInt("WORKER_BATCH_INTERVAL_MS", 2000)) * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(batchSize, nats.MaxWait(maxWait))
			if err != nil {
				if err == nats.ErrTimeout {
					continue
				}
				log.Warn("progress consumer: fetch failed", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, m := range msgs {
				if err := handleMessage(ctx, m.Data, st, dedup, log); err != nil {
					log.Warn("progress consumer: apply failed", zap.Error(err))
					if err := m.Nak(); err != nil {
						log.Warn("progress consumer: nak failed", zap.Error(err))
					}
					continue
				}
				if err := m.Ack(); err != nil {
					log.Warn("progress consumer: ack failed", zap.Error(err))
				}
			}
		}
	}()
}

// handleMessage decodes, deduplicates and applies one event. Malformed
// payloads return an error so the message is redelivered a bounded number
// of times and then dropped by the stream's delivery policy.
func handleMessage(ctx context.Context, data []byte, st store.HistoryStore, dedup idempotency.Store, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	var ev ProgressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}

	params, err := upsertParams(&ev)
	if err != nil {
		return err
	}

	if ev.EventID != "" && dedup != nil {
		dup, err := dedup.Seen(ctx, ev.EventID)
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
	}

	if _, _, err := st.Upsert(ctx, params); err != nil {
		return err
	}

	// The event is marked processed only once it has been applied, so a
	// failed upsert stays eligible for redelivery. A failed mark is not a
	// reason to Nak an already-applied event; the rare redelivery it
	// permits costs one extra watch count, losing the report would be
	// worse.
	if ev.EventID != "" && dedup != nil {
		if _, err := dedup.Check(ctx, ev.EventID); err != nil {
			log.Warn("progress consumer: mark processed failed",
				zap.String("event_id", ev.EventID), zap.Error(err))
		}
	}
	return nil
}

func upsertParams(ev *ProgressEvent) (store.UpsertParams, error) {
	platform, err := store.ParsePlatform(ev.Platform)
	if err != nil {
		return store.UpsertParams{}, err
	}
	return store.UpsertParams{
		User:        ev.UserID,
		VideoID:     ev.VideoID,
		Platform:    platform,
		Title:       ev.Title,
		Thumbnail:   ev.Thumbnail,
		ChannelName: ev.ChannelName,
		UploadedBy:  ev.UploadedBy,
		Progress:    ev.Progress,
		Duration:    ev.Duration,
	}, nil
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
