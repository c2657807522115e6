package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danellekruger/star-wars-api-wrapper/internal/cache"
	"github.com/danellekruger/star-wars-api-wrapper/internal/middleware"
	"github.com/danellekruger/star-wars-api-wrapper/internal/resolver"
	"github.com/danellekruger/star-wars-api-wrapper/internal/swapi"
)

type stubFilms struct{}

func (stubFilms) GetAllPrimary(ctx context.Context) (resolver.Result, error) {
	return resolver.Result{Count: 1, Items: []swapi.Resource{{"title": "A New Hope", "episode_id": float64(4)}}}, nil
}

func (stubFilms) GetPrimary(ctx context.Context, id int) (swapi.Resource, error) {
	if id != 1 {
		return nil, &swapi.APIError{Kind: swapi.ErrNotFound, StatusCode: 404, Path: fmt.Sprintf("films/%d/", id)}
	}
	return swapi.Resource{"title": "A New Hope", "opening_crawl": strings.Repeat("crawl ", 100)}, nil
}

func (stubFilms) GetRelated(ctx context.Context, id int, kind string) (resolver.Result, error) {
	if !resolver.IsRelationKind(kind) {
		return resolver.Result{}, fmt.Errorf("%w: %q", resolver.ErrUnknownRelation, kind)
	}
	return resolver.Result{Count: 1, SourceID: id, Relation: kind, Items: []swapi.Resource{{"name": "Luke Skywalker"}}}, nil
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store := cache.NewStore(cache.Options{DefaultTTL: time.Minute})
	return NewRouter(Deps{
		Films:       stubFilms{},
		Store:       store,
		Responses:   cache.NewMemoryCache(time.Minute),
		ResponseTTL: time.Minute,
	})
}

func request(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRoutes(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{"GET", "/", http.StatusOK},
		{"GET", "/health", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/films", http.StatusOK},
		{"GET", "/films/1", http.StatusOK},
		{"GET", "/films/2", http.StatusNotFound},
		{"GET", "/films/0", http.StatusBadRequest},
		{"GET", "/films/x/characters", http.StatusBadRequest},
		{"GET", "/films/1/characters", http.StatusOK},
		{"GET", "/films/1/droids", http.StatusBadRequest},
		{"GET", "/cache/stats", http.StatusOK},
		{"POST", "/cache/clear", http.StatusOK},
		{"DELETE", "/cache/film_1", http.StatusNotFound},
		{"DELETE", "/films", http.StatusMethodNotAllowed},
		{"GET", "/nope", http.StatusNotFound},
		{"GET", "/ws/cache", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := request(h, tt.method, tt.path, nil)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}

func TestRoutes_ErrorBodiesCarryRequestID(t *testing.T) {
	h := newTestHandler(t)
	rr := request(h, "GET", "/films/2", map[string]string{middleware.RequestIDHeader: "req-123"})

	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "FILM_NOT_FOUND" || body.Error.RequestID != "req-123" {
		t.Errorf("unexpected error body: %+v", body.Error)
	}
	if rr.Header().Get(middleware.RequestIDHeader) != "req-123" {
		t.Error("request id not echoed")
	}
}

func TestFilmEndpointCompression(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name           string
		acceptEncoding string
		wantEncoding   string
	}{
		{"with brotli support", "br", "br"},
		{"with gzip support", "gzip", "gzip"},
		{"with both", "gzip, br", "br"},
		{"without compression", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := request(h, "GET", "/films/1", map[string]string{"Accept-Encoding": tt.acceptEncoding})
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d", rr.Code)
			}
			if vary := strings.Join(rr.Header().Values("Vary"), ", "); !strings.Contains(vary, "Accept-Encoding") {
				t.Errorf("expected Vary: Accept-Encoding, got %q", vary)
			}
			if got := rr.Header().Get("Content-Encoding"); got != tt.wantEncoding {
				t.Errorf("Content-Encoding = %q, want %q", got, tt.wantEncoding)
			}
		})
	}
}

func TestFilmEndpointETag(t *testing.T) {
	h := newTestHandler(t)

	first := request(h, "GET", "/films/1/characters", nil)
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag on film response")
	}
	second := request(h, "GET", "/films/1/characters", map[string]string{"If-None-Match": etag})
	if second.Code != http.StatusNotModified {
		t.Errorf("status = %d, want 304", second.Code)
	}

	if request(h, "GET", "/cache/stats", nil).Header().Get("ETag") != "" {
		t.Error("admin endpoints must not carry an ETag")
	}
}

func TestSecurityAndCORSHeaders(t *testing.T) {
	h := newTestHandler(t)
	rr := request(h, "GET", "/films", map[string]string{"Origin": "http://localhost:5173"})

	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("unexpected Access-Control-Allow-Origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRateLimiterWired(t *testing.T) {
	rl := middleware.NewRateLimiter(100, 100, 1, 1)
	defer rl.Stop()
	h := NewRouter(Deps{
		Films:       stubFilms{},
		Store:       cache.NewStore(cache.Options{}),
		RateLimiter: rl,
	})

	if rr := request(h, "GET", "/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("first request: %d", rr.Code)
	}
	if rr := request(h, "GET", "/health", nil); rr.Code != http.StatusTooManyRequests {
		t.Errorf("second request: got %d, want 429", rr.Code)
	}
}
