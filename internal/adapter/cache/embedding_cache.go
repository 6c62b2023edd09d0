package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"kb/internal/adapter/clock"
	"kb/internal/port"
)

// DefaultTTL is how long a cached vector stays valid.
const DefaultTTL = time.Hour

// Key builds the cache key for a text embedded with the named model.
func Key(model, text string) string {
	return model + ":" + text
}

// MemoryCache is a process-wide TTL cache of embedding vectors. When
// maxEntries is positive the least recently used entry is evicted first.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	ttl        time.Duration
	maxEntries int
	clock      port.Clock
}

type cacheEntry struct {
	key      string
	vector   []float32
	storedAt time.Time
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithClock replaces the wall clock.
func WithClock(c port.Clock) Option {
	return func(m *MemoryCache) { m.clock = c }
}

// WithMaxEntries bounds the number of cached vectors.
func WithMaxEntries(n int) Option {
	return func(m *MemoryCache) { m.maxEntries = n }
}

// NewMemoryCache creates a cache. A non-positive ttl selects DefaultTTL.
func NewMemoryCache(ttl time.Duration, opts ...Option) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &MemoryCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		clock:   clock.System{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached vector. Expired entries are evicted.
func (c *MemoryCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.expired(entry, c.clock.Now()) {
		c.remove(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return cloneVector(entry.vector), true
}

// Set stores a copy of vector under key.
func (c *MemoryCache) Set(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.vector = cloneVector(vector)
		entry.storedAt = now
		c.order.MoveToFront(el)
		return
	}

	if c.maxEntries > 0 && c.order.Len() >= c.maxEntries {
		c.remove(c.order.Back())
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{
		key:      key,
		vector:   cloneVector(vector),
		storedAt: now,
	})
}

// Invalidate drops key if present.
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Compact evicts every expired entry and returns how many were removed.
func (c *MemoryCache) Compact() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*cacheEntry), now) {
			c.remove(el)
			removed++
		}
		el = prev
	}
	return removed
}

// StartCompaction runs Compact every interval until ctx is done.
func (c *MemoryCache) StartCompaction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Compact()
			}
		}
	}()
}

func (c *MemoryCache) expired(e *cacheEntry, now time.Time) bool {
	return now.Sub(e.storedAt) > c.ttl
}

func (c *MemoryCache) remove(el *list.Element) {
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).key)
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

var _ port.EmbeddingCache = (*MemoryCache)(nil)
