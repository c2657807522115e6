package cache

import (
	"sync"
	"time"
)

var _ ResponseCache = (*MemoryCache)(nil)

type memoryEntry struct {
	body    []byte
	expires time.Time
}

// MemoryCache is an unbounded ResponseCache that admits every Set, so hits
// are deterministic. Handler tests use it in place of LRUCache.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
	stats      ResponseStats
}

func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), defaultTTL: defaultTTL}
}

func (m *MemoryCache) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if ok && time.Now().After(e.expires) {
		delete(m.entries, key)
		m.stats.Evictions++
		ok = false
	}
	if !ok {
		m.stats.Misses++
		return nil, false
	}
	m.stats.Hits++
	return e.body, true
}

func (m *MemoryCache) Set(key string, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	m.entries[key] = memoryEntry{body: body, expires: time.Now().Add(ttl)}
	m.stats.KeysAdded++
	m.mu.Unlock()
}

func (m *MemoryCache) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *MemoryCache) Clear() {
	m.mu.Lock()
	clear(m.entries)
	m.mu.Unlock()
}

func (m *MemoryCache) Stats() ResponseStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Items = int64(len(m.entries))
	for _, e := range m.entries {
		s.Size += int64(len(e.body))
	}
	return s
}
