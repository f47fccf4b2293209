// Package cache provides a size-bounded LRU with per-entry expiry.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUWithTTL is safe for concurrent use. Reads take a shared lock so lookups
// of different keys never wait on each other.
type LRUWithTTL[K comparable, V any] struct {
	cache *lru.Cache[K, *ttlEntry[V]]
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex

	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
	onEvict func()
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// Option configures an LRUWithTTL.
type Option[K comparable, V any] func(*LRUWithTTL[K, V])

// WithClock replaces time.Now, for tests.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *LRUWithTTL[K, V]) { c.now = now }
}

// WithEvictCallback is called when an entry is pushed out by capacity.
func WithEvictCallback[K comparable, V any](f func()) Option[K, V] {
	return func(c *LRUWithTTL[K, V]) { c.onEvict = f }
}

// NewLRUWithTTL creates a cache holding at most size entries. A zero ttl
// disables expiry.
func NewLRUWithTTL[K comparable, V any](size int, ttl time.Duration, opts ...Option[K, V]) (*LRUWithTTL[K, V], error) {
	c := &LRUWithTTL[K, V]{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	inner, err := lru.New[K, *ttlEntry[V]](size)
	if err != nil {
		return nil, err
	}
	c.cache = inner
	return c, nil
}

// Get returns the value for key if present and not expired.
func (c *LRUWithTTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	entry, ok := c.cache.Get(key)
	if !ok || c.expired(entry) {
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	return entry.value, true
}

// Set stores value, evicting the least recently used entry when full.
func (c *LRUWithTTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}
	if evicted := c.cache.Add(key, &ttlEntry[V]{value: value, expiresAt: expiresAt}); evicted {
		c.evicted.Add(1)
		if c.onEvict != nil {
			c.onEvict()
		}
	}
}

func (c *LRUWithTTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(key)
}

func (c *LRUWithTTL[K, V]) Len() int {
	return c.cache.Len()
}

// Clear removes all entries.
func (c *LRUWithTTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Purge()
}

type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

func (c *LRUWithTTL[K, V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Evicted: c.evicted.Load(),
		Size:    c.cache.Len(),
		HitRate: hitRate,
	}
}

// CleanupExpired removes expired entries and returns how many were removed.
// It walks every key, so run it periodically rather than per request.
func (c *LRUWithTTL[K, V]) CleanupExpired() int {
	if c.ttl == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.cache.Keys() {
		if entry, ok := c.cache.Peek(key); ok && c.expired(entry) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}

func (c *LRUWithTTL[K, V]) expired(e *ttlEntry[V]) bool {
	return c.ttl > 0 && !c.now().Before(e.expiresAt)
}
