// Package store persists one watch-history entry per (user, video, platform)
// and owns the upsert, completion and retention rules around it.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Platform identifies where a video is hosted.
type Platform string

const (
	// PlatformLocal is a video hosted by this application.
	PlatformLocal Platform = "local"
	// PlatformExternal is an embedded third-party video.
	PlatformExternal Platform = "external"
)

// ParsePlatform validates a raw platform value.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformLocal, PlatformExternal:
		return Platform(s), nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

const (
	// MinWatchTime is the minimum progress (seconds) before a save is
	// recorded. Shorter plays are accepted as no-ops.
	MinWatchTime = 5

	// CompletedThreshold is the watch ratio at which a video counts as
	// completed.
	CompletedThreshold = 0.90

	// DefaultMaxEntries is the per-user retention cap.
	DefaultMaxEntries = 100

	// MaxPageSize bounds a single history page.
	MaxPageSize = 100
)

// ErrNotFound is returned by Get and Delete for entries that were never
// recorded. It is an expected outcome, not a failure.
var ErrNotFound = errors.New("history entry not found")

// Entry is one watch-history record.
type Entry struct {
	User           string    `json:"-"`
	VideoID        string    `json:"videoId"`
	Platform       Platform  `json:"platform"`
	Title          string    `json:"title"`
	Thumbnail      string    `json:"thumbnail"`
	ChannelName    string    `json:"channelName"`
	UploadedBy     string    `json:"uploadedBy,omitempty"`
	Progress       int       `json:"progress"`
	Duration       int       `json:"duration"`
	WatchCount     int       `json:"watchCount"`
	Completed      bool      `json:"completed"`
	WatchedAt      time.Time `json:"watchedAt"`
	FirstWatchedAt time.Time `json:"firstWatchedAt"`
}

// WatchPercentage is computed at read time and never stored.
// Overshooting progress is capped at 100; unknown duration yields 0.
func (e Entry) WatchPercentage() int {
	if e.Duration <= 0 {
		return 0
	}
	pct := float64(e.Progress) / float64(e.Duration) * 100
	return int(math.Round(math.Min(100, pct)))
}

// UpsertParams carries one progress save. Display metadata must already be
// resolved by the caller; the store performs no lookups of its own.
type UpsertParams struct {
	User        string
	VideoID     string
	Platform    Platform
	Progress    int
	Duration    int
	Title       string
	Thumbnail   string
	ChannelName string
	UploadedBy  string
}

// ListParams selects a page of history for one user.
// Platform is an optional filter; empty means both platforms.
type ListParams struct {
	User     string
	Platform Platform
	Page     int
	PageSize int
}

// HistoryStore is the durable record of watch progress.
type HistoryStore interface {
	// Upsert inserts or updates the entry keyed by (user, video, platform).
	// Last write wins on all fields; watchCount increments exactly once per
	// accepted call. Saves below MinWatchTime return recorded=false without
	// touching storage. After an accepted save the implementation trims the
	// user's history to the retention cap, best-effort.
	Upsert(ctx context.Context, p UpsertParams) (Entry, bool, error)

	// List returns a page ordered by watchedAt descending plus the total
	// match count. PageSize is clamped to MaxPageSize.
	List(ctx context.Context, p ListParams) ([]Entry, int, error)

	// Get returns the entry for a resume-playback lookup, or ErrNotFound.
	Get(ctx context.Context, user, videoID string, platform Platform) (Entry, error)

	// Delete removes and returns one entry, or ErrNotFound.
	Delete(ctx context.Context, user, videoID string, platform Platform) (Entry, error)

	// Clear removes all entries for the user and reports how many.
	Clear(ctx context.Context, user string) (int64, error)

	// ListAll returns every entry for the user (bounded by the retention
	// cap); input for the analytics engine.
	ListAll(ctx context.Context, user string) ([]Entry, error)
}

// clampPage normalises pagination input shared by implementations.
func clampPage(p ListParams) (page, size int) {
	page = p.Page
	if page < 1 {
		page = 1
	}
	size = p.PageSize
	if size <= 0 {
		size = 20
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// now is swapped in tests that pin timestamps.
var now = func() time.Time { return time.Now().UTC() }
