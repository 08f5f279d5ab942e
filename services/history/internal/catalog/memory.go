package catalog

import (
	"context"
	"sync"
)

// InMemoryCatalog is a development and test implementation.
type InMemoryCatalog struct {
	mu     sync.RWMutex
	videos map[string]Video
}

func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{videos: make(map[string]Video)}
}

// Put registers or replaces a video.
func (c *InMemoryCatalog) Put(v Video) {
	c.mu.Lock()
	c.videos[v.ID] = v
	c.mu.Unlock()
}

func (c *InMemoryCatalog) GetVideo(_ context.Context, id string) (Video, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.videos[id]
	if !ok {
		return Video{}, ErrNotFound
	}
	return v, nil
}

func (c *InMemoryCatalog) Categories(_ context.Context, ids []string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if v, ok := c.videos[id]; ok {
			out[id] = v.Category
		}
	}
	return out, nil
}

// Interface compliance for both implementations.
var (
	_ Catalog = (*InMemoryCatalog)(nil)
	_ Catalog = (*PostgresCatalog)(nil)
)
