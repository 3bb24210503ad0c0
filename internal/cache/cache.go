// Package cache implements the engine's in-process cache tiers: embedding
// vectors, query results with semantic-duplicate folding, and question
// classifications. All tiers share one bounded LRU+TTL core.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of one cache tier.
type Stats struct {
	TotalRequests int64   `json:"total_requests"`
	Hits          int64   `json:"cache_hits"`
	Misses        int64   `json:"cache_misses"`
	Evictions     int64   `json:"evictions"`
	Size          int     `json:"current_size"`
	MaxSize       int     `json:"max_size"`
	HitRate       float64 `json:"hit_rate"`
}

type entry[V any] struct {
	value     V
	timestamp time.Time
	ttl       time.Duration
	hits      int
}

// Cache is a bounded TTL cache with hit-count-aware eviction. When full, the
// entry with the fewest hits (oldest insert breaking ties) is evicted, so a
// frequently read entry outlives a fresher one-shot entry.
//
// All operations are mutex-guarded. The optional removal hook fires under the
// lock for every expiry, eviction, and delete; hooks must not call back into
// the cache.
type Cache[V any] struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	entries    map[string]*entry[V]
	onRemove   func(key string)

	now func() time.Time

	totalRequests int64
	hits          int64
	misses        int64
	evictions     int64
}

// NewCache creates a cache holding at most maxSize entries, each expiring
// defaultTTL after insertion.
func NewCache[V any](maxSize int, defaultTTL time.Duration) *Cache[V] {
	return &Cache[V]{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*entry[V]),
		now:        time.Now,
	}
}

// OnRemove registers a hook invoked whenever an entry leaves the cache
// through expiry, eviction, or Delete. Must be set before concurrent use.
func (c *Cache[V]) OnRemove(fn func(key string)) {
	c.onRemove = fn
}

// Get returns the cached value for key. Expired entries are purged before
// lookup; a hit bumps the entry's hit count and refreshes nothing else.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked()
	c.totalRequests++

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}

	e.hits++
	c.hits++
	return e.value, true
}

// Set inserts value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL inserts value under key with an explicit TTL.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOneLocked()
	}

	c.entries[key] = &entry[V]{
		value:     value,
		timestamp: c.now(),
		ttl:       ttl,
	}
}

// Delete removes key from the cache. Returns true if it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeLocked(key)
	return true
}

// Clear drops all entries. Counters are preserved.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		c.removeLocked(key)
	}
}

// CleanExpired removes all expired entries and returns how many were dropped.
func (c *Cache[V]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeExpiredLocked()
}

// Len returns the current entry count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalRequests: c.totalRequests,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Size:          len(c.entries),
		MaxSize:       c.maxSize,
	}
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalRequests)
	}
	return s
}

func (c *Cache[V]) purgeExpiredLocked() int {
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.timestamp) > e.ttl {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}

// evictOneLocked drops the entry with the fewest hits, breaking ties by
// insertion time. Linear scan; tier sizes are a few thousand entries.
func (c *Cache[V]) evictOneLocked() {
	var victim string
	var victimEntry *entry[V]
	for key, e := range c.entries {
		if victimEntry == nil ||
			e.hits < victimEntry.hits ||
			(e.hits == victimEntry.hits && e.timestamp.Before(victimEntry.timestamp)) {
			victim = key
			victimEntry = e
		}
	}
	if victimEntry != nil {
		c.removeLocked(victim)
		c.evictions++
	}
}

func (c *Cache[V]) removeLocked(key string) {
	delete(c.entries, key)
	if c.onRemove != nil {
		c.onRemove(key)
	}
}

// hashKey builds a stable cache key from the given parts.
func hashKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
