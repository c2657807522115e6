package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// LRUCache holds rendered response bodies in ristretto, bounded by total
// body bytes. Entries expire through ristretto's own TTL.
type LRUCache struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration
}

var _ ResponseCache = (*LRUCache)(nil)

// NewLRU creates a response cache bounded to maxSizeMB megabytes and roughly
// maxEntries keys, with defaultTTL applied when Set receives 0.
func NewLRU(maxSizeMB int64, maxEntries int64, defaultTTL time.Duration) (*LRUCache, error) {
	// ristretto wants ~10 admission counters per expected entry
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 1
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}

	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxSizeMB << 20,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: rc, defaultTTL: defaultTTL}, nil
}

// Get returns the body stored under key if it is present and unexpired.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	body, ok := v.([]byte)
	return body, ok
}

// Set stores body for ttl (0 = default). The cost is the body size, so large
// renderings are the first to go under pressure. ristretto may refuse the
// write; a refused body is simply rendered again next time.
func (c *LRUCache) Set(key string, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.cache.SetWithTTL(key, body, int64(len(body)), ttl)
	c.cache.Wait()
}

// Delete removes key.
func (c *LRUCache) Delete(key string) {
	c.cache.Del(key)
}

// Clear drops every stored body.
func (c *LRUCache) Clear() {
	c.cache.Clear()
}

// Stats returns ristretto's counters. Size and Items are approximations
// derived from admitted minus evicted cost and keys.
func (c *LRUCache) Stats() ResponseStats {
	m := c.cache.Metrics
	return ResponseStats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeysAdded: m.KeysAdded(),
		Evictions: m.KeysEvicted(),
		Size:      int64(m.CostAdded() - m.CostEvicted()),
		Items:     int64(m.KeysAdded() - m.KeysEvicted()),
	}
}

// Close stops ristretto's background goroutines.
func (c *LRUCache) Close() {
	c.cache.Close()
}
