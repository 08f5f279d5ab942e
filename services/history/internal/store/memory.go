package store

import (
	"context"
	"sort"
	"sync"
)

type entryKey struct {
	user     string
	videoID  string
	platform Platform
}

// InMemoryHistoryStore is a development and test implementation.
type InMemoryHistoryStore struct {
	mu         sync.RWMutex
	entries    map[entryKey]Entry
	maxEntries int
}

func NewInMemoryHistoryStore(maxEntries int) *InMemoryHistoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &InMemoryHistoryStore{
		entries:    make(map[entryKey]Entry),
		maxEntries: maxEntries,
	}
}

func (s *InMemoryHistoryStore) Upsert(_ context.Context, p UpsertParams) (Entry, bool, error) {
	if p.Progress < MinWatchTime {
		return Entry{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	k := entryKey{user: p.User, videoID: p.VideoID, platform: p.Platform}

	e, ok := s.entries[k]
	if !ok {
		e = Entry{
			User:           p.User,
			VideoID:        p.VideoID,
			Platform:       p.Platform,
			FirstWatchedAt: ts,
		}
	}
	e.Title = p.Title
	e.Thumbnail = p.Thumbnail
	e.ChannelName = p.ChannelName
	e.UploadedBy = p.UploadedBy
	e.Progress = p.Progress
	e.Duration = p.Duration
	e.Completed = p.Duration > 0 && float64(p.Progress)/float64(p.Duration) >= CompletedThreshold
	e.WatchedAt = ts
	e.WatchCount++
	s.entries[k] = e

	s.evictLocked(p.User)
	return e, true, nil
}

// evictLocked trims the user's history to the cap, oldest watchedAt first;
// ties evict the smaller videoID first.
func (s *InMemoryHistoryStore) evictLocked(user string) {
	var owned []Entry
	for k, e := range s.entries {
		if k.user == user {
			owned = append(owned, e)
		}
	}
	if len(owned) <= s.maxEntries {
		return
	}
	sortByRecency(owned)
	for _, e := range owned[s.maxEntries:] {
		delete(s.entries, entryKey{user: user, videoID: e.VideoID, platform: e.Platform})
	}
}

// sortByRecency orders entries most-recently-watched first with a
// deterministic (videoID DESC) tie-break.
func sortByRecency(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].WatchedAt.Equal(entries[j].WatchedAt) {
			return entries[i].WatchedAt.After(entries[j].WatchedAt)
		}
		return entries[i].VideoID > entries[j].VideoID
	})
}

func (s *InMemoryHistoryStore) List(_ context.Context, p ListParams) ([]Entry, int, error) {
	page, size := clampPage(p)

	s.mu.RLock()
	var matched []Entry
	for k, e := range s.entries {
		if k.user != p.User {
			continue
		}
		if p.Platform != "" && k.platform != p.Platform {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	sortByRecency(matched)
	total := len(matched)

	start := (page - 1) * size
	if start >= total {
		return []Entry{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *InMemoryHistoryStore) Get(_ context.Context, user, videoID string, platform Platform) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryKey{user: user, videoID: videoID, platform: platform}]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *InMemoryHistoryStore) Delete(_ context.Context, user, videoID string, platform Platform) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := entryKey{user: user, videoID: videoID, platform: platform}
	e, ok := s.entries[k]
	if !ok {
		return Entry{}, ErrNotFound
	}
	delete(s.entries, k)
	return e, nil
}

func (s *InMemoryHistoryStore) Clear(_ context.Context, user string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k := range s.entries {
		if k.user == user {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryHistoryStore) ListAll(_ context.Context, user string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for k, e := range s.entries {
		if k.user == user {
			out = append(out, e)
		}
	}
	sortByRecency(out)
	return out, nil
}
