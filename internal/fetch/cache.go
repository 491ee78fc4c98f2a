package fetch

import (
	"sync"
	"time"

	"github.com/yourorg/dci-apr-matrix/internal/model"
	"golang.org/x/sync/singleflight"
)

// Cache keeps fetch results fresh for a short window so a UI refresh loop
// cannot flood the provider. Keys are filter parameters only; concurrent
// callers with the same key inside the window share one result, and a
// cache miss is collapsed to a single in-flight fetch.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

type cacheEntry struct {
	batch   *model.Batch
	fetched time.Time
}

// NewCache creates a cache with the given freshness window.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// WithClock replaces the time source. Test hook.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// GetOrFetch returns the cached batch for key when fresh, otherwise runs
// fn exactly once across concurrent callers and caches its result. The
// second return value reports whether the caller was served without
// initiating a fetch of its own (a fresh entry, or a shared in-flight
// result).
func (c *Cache) GetOrFetch(key string, fn func() (*model.Batch, error)) (*model.Batch, bool, error) {
	if batch, ok := c.lookup(key); ok {
		return batch, true, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// A racing caller may have populated the entry while this one
		// waited on the flight lock.
		if batch, ok := c.lookup(key); ok {
			return batch, nil
		}
		batch, err := fn()
		if err != nil {
			return nil, err
		}
		c.store(key, batch)
		return batch, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*model.Batch), shared, nil
}

// Invalidate removes a key, forcing the next call to fetch.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) lookup(key string) (*model.Batch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.fetched) >= c.ttl {
		return nil, false
	}
	return e.batch, true
}

func (c *Cache) store(key string, batch *model.Batch) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{batch: batch, fetched: c.now()}
	c.mu.Unlock()
}
