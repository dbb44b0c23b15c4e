package costguard

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Entry is one cached inference result. cached_at is immutable until the
// key is re-put; hits and last_accessed update on every hit.
type Entry struct {
	Key          string      `json:"key"`
	Result       interface{} `json:"result"`
	CachedAt     time.Time   `json:"cached_at"`
	LastAccessed time.Time   `json:"last_accessed"`
	Hits         int         `json:"hits"`
}

// Cache is the fingerprint → result cache. go-cache handles TTL bookkeeping;
// eviction of expired entries only happens on Clear. Writes go through a
// single mutex so readers never observe torn entries.
type Cache struct {
	mu  sync.Mutex
	c   *gocache.Cache
	ttl time.Duration

	hits   int64
	misses int64
}

// NewCache creates a cache with the given TTL. No background janitor runs;
// expired entries linger until Clear.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		c:   gocache.New(ttl, 0),
		ttl: ttl,
	}
}

// Fingerprint hashes prompt and model into the cache key
func Fingerprint(prompt, model string) string {
	sum := sha256.Sum256([]byte(prompt + model))
	return fmt.Sprintf("%x", sum)
}

// Get returns the cached result for the fingerprint, bumping hit counters
func (c *Cache) Get(fingerprint string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.c.Get(fingerprint)
	if !ok {
		c.misses++
		return nil, false
	}
	entry := v.(*Entry)
	entry.Hits++
	entry.LastAccessed = time.Now()
	c.hits++
	return entry.Result, true
}

// Put inserts a fresh entry under the fingerprint
func (c *Cache) Put(fingerprint string, result interface{}) {
	now := time.Now()
	c.mu.Lock()
	c.c.SetDefault(fingerprint, &Entry{
		Key:          fingerprint,
		Result:       result,
		CachedAt:     now,
		LastAccessed: now,
	})
	c.mu.Unlock()
}

// Clear evicts entries older than the given age. A non-positive age evicts
// everything past its TTL. Returns the number of entries removed.
func (c *Cache) Clear(olderThan time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if olderThan <= 0 {
		olderThan = c.ttl
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for key, item := range c.c.Items() {
		entry, ok := item.Object.(*Entry)
		if !ok {
			continue
		}
		if entry.CachedAt.Before(cutoff) {
			c.c.Delete(key)
			removed++
		}
	}
	return removed
}

// CacheStats is the /cache/stats payload
type CacheStats struct {
	Entries    int     `json:"entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	TTLSeconds int     `json:"ttl_seconds"`
}

// Stats returns cache counters
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Entries:    c.c.ItemCount(),
		Hits:       c.hits,
		Misses:     c.misses,
		TTLSeconds: int(c.ttl.Seconds()),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}
