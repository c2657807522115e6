// Package cache holds the two caches of the service: Store, the TTL store
// of upstream resources with read-through loading, and ResponseCache, a
// size-bounded cache of rendered response bodies keyed by request.
package cache

import "time"

// ResponseCache stores encoded response bodies. A ttl <= 0 on Set means the
// implementation's default.
type ResponseCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, body []byte, ttl time.Duration)
	Delete(key string)
	Clear()
	Stats() ResponseStats
}

// ResponseStats are cumulative counters since creation. Size and Items
// describe what is currently held.
type ResponseStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	KeysAdded uint64 `json:"keys_added"`
	Evictions uint64 `json:"evictions"`
	Size      int64  `json:"size_bytes"`
	Items     int64  `json:"items"`
}
