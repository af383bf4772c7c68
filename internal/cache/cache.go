// Package cache provides a bounded, thread-safe LRU cache with hit/miss statistics.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
)

// Entry is a cached value with bookkeeping. Only mutated under the owning cache's lock.
type Entry[V any] struct {
	Value       V
	CreatedAt   time.Time
	AccessCount uint64
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// EvictionCache evicts the least recently used entry once capacity is reached.
// Get and Put both count as use.
type EvictionCache[K comparable, V any] struct {
	mu        sync.Mutex
	lru       *simplelru.LRU[K, *Entry[V]]
	capacity  int
	hits      uint64
	misses    uint64
	evictions uint64
	now       func() time.Time
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int) (*EvictionCache[K, V], error) {
	if capacity <= 0 {
		return nil, apperrors.Newf(apperrors.InvalidConfiguration, "cache capacity must be positive, got %d", capacity)
	}
	c := &EvictionCache[K, V]{capacity: capacity, now: time.Now}
	lru, err := simplelru.NewLRU[K, *Entry[V]](capacity, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidConfiguration, "create lru")
	}
	c.lru = lru
	return c, nil
}

// Get returns the value for key and marks it most recently used.
func (c *EvictionCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	e.AccessCount++
	c.hits++
	return e.Value, true
}

// Put inserts or replaces key. Replacing never evicts.
func (c *EvictionCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Get(key); ok {
		e.Value = value
		e.AccessCount++
		return
	}
	if evicted := c.lru.Add(key, &Entry[V]{Value: value, CreatedAt: c.now()}); evicted {
		c.evictions++
	}
}

// Remove deletes key, reporting whether it was present. Counters are unaffected.
func (c *EvictionCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Contains reports presence without touching recency or counters.
func (c *EvictionCache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Peek returns a copy of the entry without touching recency or counters.
func (c *EvictionCache[K, V]) Peek(key K) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok {
		return Entry[V]{}, false
	}
	return *e, true
}

// Keys returns the cached keys from least to most recently used.
func (c *EvictionCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Clear drops every entry and resets the counters.
func (c *EvictionCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Size returns the number of cached entries.
func (c *EvictionCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the configured bound.
func (c *EvictionCache[K, V]) Capacity() int { return c.capacity }

// HitRate returns hits as a percentage of lookups, 0 before any lookup.
func (c *EvictionCache[K, V]) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitRate()
}

// Stats returns a consistent snapshot of all counters.
func (c *EvictionCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.lru.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   c.hitRate(),
	}
}

func (c *EvictionCache[K, V]) hitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total) * 100
}
