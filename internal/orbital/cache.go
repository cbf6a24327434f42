package orbital

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
	"github.com/orbitwatch/orbitwatch/internal/metrics"
)

// cacheEntry is an immutable propagation result with an expiry deadline.
type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// propCache is a TTL cache of propagation results keyed by deterministic
// request hashes. Entries are append-only per key and safe for concurrent
// readers.
type propCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func newPropCache(ttl time.Duration) *propCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &propCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// pointKey builds the deterministic key for a single-instant propagation.
// Timestamps are bucketed to the second so identical requests are idempotent
// cache hits regardless of sub-second noise.
func pointKey(el ephemeris.ElementSet, t time.Time) string {
	return requestKey("point", el, fmt.Sprintf("%d", t.UTC().Unix()))
}

// rangeKey builds the deterministic key for a range propagation.
func rangeKey(el ephemeris.ElementSet, start, end time.Time, step time.Duration) string {
	return requestKey("range", el, fmt.Sprintf("%d|%d|%d", start.UTC().Unix(), end.UTC().Unix(), int64(step.Seconds())))
}

// requestKey hashes element lines, frame, and the bucketed time component.
func requestKey(frame string, el ephemeris.ElementSet, times string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%s", el.Line1, el.Line2, frame, times)
	return hex.EncodeToString(h.Sum(nil))
}

// get returns the cached value for key if present and unexpired, counting
// the lookup as a hit or miss. Each request must count exactly once.
func (c *propCache) get(key string) (any, bool) {
	v, ok := c.peek(key)
	if ok {
		c.hits.Add(1)
		metrics.IncPropCacheHits()
		return v, true
	}

	c.misses.Add(1)
	metrics.IncPropCacheMisses()
	return nil, false
}

// peek is get without touching the counters, for re-checks after a request
// already counted its outcome.
func (c *propCache) peek(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.value, true
	}
	return nil, false
}

// put stores a value under key with the configured TTL and sweeps any
// expired entries while holding the write lock.
func (c *propCache) put(key string, value any) {
	now := time.Now()

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: now.Add(c.ttl)}
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.SetPropCacheEntries(size)
}

// CacheStats holds cache counters for the status endpoint.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

func (c *propCache) stats() CacheStats {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()

	return CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
