// Package tracker coalesces bursty playback-progress reports so a player
// polling every few seconds produces at most one persisted save per quiet
// window. It is owned by a single player session; independent sessions get
// independent Tracker instances.
package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/video-platform/services/history/internal/store"
)

// Update carries the most recent progress report for one video.
type Update struct {
	VideoID     string
	Platform    store.Platform
	Progress    int
	Duration    int
	Title       string
	Thumbnail   string
	ChannelName string
}

// Saver persists a coalesced update. Implementations must not retry;
// history is best-effort and a later Track call re-arms the key anyway.
type Saver interface {
	Save(ctx context.Context, u Update) error
}

// SaverFunc adapts a function to the Saver interface.
type SaverFunc func(ctx context.Context, u Update) error

func (f SaverFunc) Save(ctx context.Context, u Update) error { return f(ctx, u) }

// Options configures a Tracker. Zero values take the defaults below.
type Options struct {
	// Window is the quiet period after the last Track call before the
	// pending update is persisted.
	Window time.Duration
	// MinWatchTime mirrors the store's no-op threshold so hopeless updates
	// never arm a timer.
	MinWatchTime int
	// HasSession, when set, gates tracking on an active authenticated
	// session. This is an optimisation, not a security boundary.
	HasSession func() bool
}

const defaultWindow = 5 * time.Second

type key struct {
	platform store.Platform
	videoID  string
}

type pending struct {
	update Update
	timer  *time.Timer
}

// Tracker debounces progress updates per (platform, videoID) key.
type Tracker struct {
	saver      Saver
	window     time.Duration
	minWatch   int
	hasSession func() bool
	log        *zap.Logger

	mu      sync.Mutex
	pending map[key]*pending
}

func New(saver Saver, opts Options, log *zap.Logger) *Tracker {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.MinWatchTime <= 0 {
		opts.MinWatchTime = store.MinWatchTime
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		saver:      saver,
		window:     opts.Window,
		minWatch:   opts.MinWatchTime,
		hasSession: opts.HasSession,
		log:        log,
		pending:    make(map[key]*pending),
	}
}

// Track records the latest progress for the video and (re)arms its quiet
// window. Updates below the watch-time threshold and updates without an
// active session are dropped before entering the pending map.
func (t *Tracker) Track(u Update) {
	if u.Progress < t.minWatch {
		return
	}
	if t.hasSession != nil && !t.hasSession() {
		return
	}

	k := key{platform: u.Platform, videoID: u.VideoID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.pending[k]; ok {
		p.timer.Stop()
	}
	p := &pending{update: u}
	p.timer = time.AfterFunc(t.window, func() { t.fire(k, p) })
	t.pending[k] = p
}

// fire persists a pending update when its quiet window elapses. A stale
// timer (key already replaced or flushed) is a no-op.
func (t *Tracker) fire(k key, p *pending) {
	t.mu.Lock()
	cur, ok := t.pending[k]
	if !ok || cur != p {
		t.mu.Unlock()
		return
	}
	delete(t.pending, k)
	t.mu.Unlock()

	t.save(context.Background(), p.update)
}

// FlushAll cancels every pending timer and persists all pending updates
// immediately. Call it at session teardown so the final position is never
// lost to an in-flight debounce window.
func (t *Tracker) FlushAll(ctx context.Context) {
	t.mu.Lock()
	flushed := make([]Update, 0, len(t.pending))
	for k, p := range t.pending {
		p.timer.Stop()
		flushed = append(flushed, p.update)
		delete(t.pending, k)
	}
	t.mu.Unlock()

	for _, u := range flushed {
		t.save(ctx, u)
	}
}

// PendingCount reports the number of armed keys.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) save(ctx context.Context, u Update) {
	if err := t.saver.Save(ctx, u); err != nil {
		// No retry: the next Track call for this key re-attempts with
		// fresher data.
		t.log.Warn("history save failed",
			zap.String("video_id", u.VideoID),
			zap.String("platform", string(u.Platform)),
			zap.Error(err))
	}
}
