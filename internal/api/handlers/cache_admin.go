package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/danellekruger/star-wars-api-wrapper/internal/apierr"
	"github.com/danellekruger/star-wars-api-wrapper/internal/cache"
	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
	"github.com/danellekruger/star-wars-api-wrapper/internal/middleware"
)

// CacheEntry is one Cache Store entry as reported by GET /cache/stats.
type CacheEntry struct {
	cache.EntryInfo
	RemainingSeconds float64 `json:"remaining_ttl_seconds"`
}

// CacheStatsResponse is the body of GET /cache/stats.
type CacheStatsResponse struct {
	cache.Stats
	DefaultTTLSeconds float64              `json:"default_ttl_seconds"`
	Entries           []CacheEntry         `json:"entries"`
	Responses         *cache.ResponseStats `json:"response_cache,omitempty"`
	Timestamp         time.Time            `json:"timestamp"`
}

// CacheAdminHandler handles cache administration endpoints.
type CacheAdminHandler struct {
	store     *cache.Store
	responses cache.ResponseCache
}

// NewCacheAdminHandler creates a new cache admin handler. responses may be nil.
func NewCacheAdminHandler(store *cache.Store, responses cache.ResponseCache) *CacheAdminHandler {
	return &CacheAdminHandler{store: store, responses: responses}
}

// Snapshot builds the stats payload; it never mutates the caches.
func (h *CacheAdminHandler) Snapshot() CacheStatsResponse {
	stats := h.store.Stats()
	infos := h.store.Entries()
	entries := make([]CacheEntry, len(infos))
	for i, e := range infos {
		entries[i] = CacheEntry{EntryInfo: e, RemainingSeconds: e.Remaining.Seconds()}
	}
	out := CacheStatsResponse{
		Stats:             stats,
		DefaultTTLSeconds: stats.DefaultTTL.Seconds(),
		Entries:           entries,
		Timestamp:         time.Now().UTC(),
	}
	if h.responses != nil {
		rs := h.responses.Stats()
		out.Responses = &rs
	}
	return out
}

// GetCacheStats returns current cache statistics.
// GET /cache/stats
func (h *CacheAdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Snapshot())
}

// ClearCache empties the Cache Store and the response cache.
// POST /cache/clear
func (h *CacheAdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	removed := h.store.Clear()
	if h.responses != nil {
		h.responses.Clear()
	}
	logger.FromContext(r.Context(), "cache").Info("Cache cleared", "removed", removed)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"message":         "Cache cleared successfully",
		"cleared_entries": removed,
	})
}

// InvalidateKey removes one Cache Store entry. Rendered responses may embed
// the entry, so the response cache is cleared as well.
// DELETE /cache/{key}
func (h *CacheAdminHandler) InvalidateKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !middleware.ValidCacheKey(key) {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidFormat("cache key must be lowercase letters, digits and underscores"))
		return
	}

	if !h.store.Invalidate(key) {
		apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("cache entry").WithDetail("key", key))
		return
	}
	if h.responses != nil {
		h.responses.Clear()
	}
	logger.FromContext(r.Context(), "cache").Info("Cache entry invalidated", "key", key)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "Cache entry invalidated",
		"key":     key,
	})
}
