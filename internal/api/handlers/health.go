package handlers

import (
	"net/http"
	"time"

	"github.com/danellekruger/star-wars-api-wrapper/internal/cache"
	"github.com/danellekruger/star-wars-api-wrapper/internal/resolver"
)

// ServiceName is reported by the welcome payload.
const ServiceName = "Star Wars API Wrapper"

// Root returns a welcome payload listing the endpoints.
// GET /
func Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to the " + ServiceName,
		"endpoints": map[string]string{
			"films":        "/films",
			"film":         "/films/{id}",
			"related":      "/films/{id}/{relation}",
			"health":       "/health",
			"cache_stats":  "/cache/stats",
			"cache_clear":  "/cache/clear",
			"cache_stream": "/ws/cache",
			"metrics":      "/metrics",
		},
		"relations": resolver.RelationKinds(),
	})
}

// Health reports liveness and a cache summary.
// GET /health
func Health(store *cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := store.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
			"cache": map[string]any{
				"active_entries":      stats.LiveEntries,
				"default_ttl_seconds": stats.DefaultTTL.Seconds(),
			},
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
