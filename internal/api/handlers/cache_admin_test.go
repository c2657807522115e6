package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/danellekruger/star-wars-api-wrapper/internal/cache"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newAdminRouter(store *cache.Store, responses cache.ResponseCache) *mux.Router {
	h := NewCacheAdminHandler(store, responses)
	r := mux.NewRouter()
	r.HandleFunc("/cache/stats", h.GetCacheStats).Methods("GET")
	r.HandleFunc("/cache/clear", h.ClearCache).Methods("POST")
	r.HandleFunc("/cache/{key}", h.InvalidateKey).Methods("DELETE")
	return r
}

func TestGetCacheStats(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := cache.NewStore(cache.Options{DefaultTTL: time.Minute, Now: clock.Now})
	store.Set("film_1", "a", 0)
	store.Set("film_2", "b", 10*time.Second)
	clock.now = clock.now.Add(20 * time.Second)

	responses := cache.NewMemoryCache(time.Minute)
	responses.Set("film_1", []byte("{}"), 0)

	rr := doGet(t, newAdminRouter(store, responses), "/cache/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var out struct {
		TotalEntries   int     `json:"total_entries"`
		ActiveEntries  int     `json:"active_entries"`
		ExpiredEntries int     `json:"expired_entries"`
		DefaultTTL     float64 `json:"default_ttl_seconds"`
		Entries        []struct {
			Key       string  `json:"key"`
			Expired   bool    `json:"expired"`
			Remaining float64 `json:"remaining_ttl_seconds"`
		} `json:"entries"`
		Responses *struct {
			Items int64 `json:"items"`
		} `json:"response_cache"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if out.TotalEntries != 2 || out.ActiveEntries != 1 || out.ExpiredEntries != 1 {
		t.Errorf("unexpected counts: %+v", out)
	}
	if out.DefaultTTL != 60 {
		t.Errorf("default_ttl_seconds = %v, want 60", out.DefaultTTL)
	}
	if len(out.Entries) != 2 || out.Entries[0].Key != "film_1" || out.Entries[0].Remaining != 40 {
		t.Errorf("unexpected entries: %+v", out.Entries)
	}
	if !out.Entries[1].Expired {
		t.Errorf("film_2 should be reported expired: %+v", out.Entries[1])
	}
	if out.Responses == nil || out.Responses.Items != 1 {
		t.Errorf("unexpected response cache stats: %+v", out.Responses)
	}

	// reading stats must not have evicted the expired entry
	if got := store.Stats().TotalEntries; got != 2 {
		t.Errorf("stats read mutated store: %d entries", got)
	}
}

func TestClearCache(t *testing.T) {
	store := cache.NewStore(cache.Options{})
	store.Set("film_1", "a", 0)
	store.Set("film_1_characters", "b", 0)
	responses := cache.NewMemoryCache(time.Minute)
	responses.Set("film_1", []byte("{}"), 0)

	r := newAdminRouter(store, responses)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cache/clear", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["cleared_entries"] != float64(2) {
		t.Errorf("cleared_entries = %v", out["cleared_entries"])
	}
	if store.Stats().TotalEntries != 0 {
		t.Error("store not cleared")
	}
	if _, ok := responses.Get("film_1"); ok {
		t.Error("response cache not cleared")
	}

	// clearing twice is harmless
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cache/clear", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("second clear: expected 200, got %d", rr.Code)
	}
}

func TestInvalidateKey(t *testing.T) {
	store := cache.NewStore(cache.Options{})
	store.Set("film_1", "a", 0)
	r := newAdminRouter(store, nil)

	tests := []struct {
		name       string
		key        string
		wantStatus int
		wantCode   string
	}{
		{"present", "film_1", http.StatusOK, ""},
		{"already gone", "film_1", http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"malformed", "Film-1", http.StatusBadRequest, "VALIDATION_INVALID_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/cache/"+tt.key, nil))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				if code := errorCode(t, rr); code != tt.wantCode {
					t.Errorf("code = %s, want %s", code, tt.wantCode)
				}
			}
		})
	}
	if _, ok := store.Get("film_1"); ok {
		t.Error("film_1 should be gone")
	}
}
