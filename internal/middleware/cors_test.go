package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_Origins(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"exact match", []string{"http://localhost:3000", "https://example.com"}, "http://localhost:3000", "http://localhost:3000"},
		{"disallowed", []string{"http://localhost:3000"}, "http://evil.com", ""},
		{"wildcard", []string{"*"}, "http://any-domain.com", "http://any-domain.com"},
		{"subdomain", []string{"*.example.com"}, "https://app.example.com", "https://app.example.com"},
		{"not a subdomain", []string{"*.example.com"}, "http://notexample.com", ""},
		{"suffix trick", []string{"*.example.com"}, "http://example.com.evil.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(&CORSConfig{AllowedOrigins: tt.allowed})(okHandler())
			req := httptest.NewRequest("GET", "/films", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
			if rr.Header().Get("Vary") != "Origin" {
				t.Error("expected Vary: Origin")
			}
		})
	}
}

func TestCORS_PreflightRequest(t *testing.T) {
	config := &CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         600,
	}
	handler := CORS(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should not reach the handler")
	}))

	req := httptest.NewRequest("OPTIONS", "/cache/film_1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204 for preflight, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, DELETE" {
		t.Errorf("unexpected Access-Control-Allow-Methods %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-Request-ID" {
		t.Errorf("unexpected Access-Control-Allow-Headers %q", got)
	}
	if got := rr.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("unexpected Access-Control-Max-Age %q", got)
	}
}

func TestCORS_PlainOptionsPassesThrough(t *testing.T) {
	var reached bool
	handler := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest("OPTIONS", "/films", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !reached {
		t.Error("OPTIONS without Access-Control-Request-Method should reach the handler")
	}
}

func TestCORS_CredentialsAndExposedHeaders(t *testing.T) {
	config := &CORSConfig{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		ExposedHeaders:   []string{"ETag", "X-Request-ID"},
	}
	handler := CORS(config)(okHandler())

	req := httptest.NewRequest("GET", "/films", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if creds := rr.Header().Get("Access-Control-Allow-Credentials"); creds != "true" {
		t.Errorf("Expected Access-Control-Allow-Credentials: true, got %s", creds)
	}
	if exposed := rr.Header().Get("Access-Control-Expose-Headers"); exposed != "ETag, X-Request-ID" {
		t.Errorf("unexpected Access-Control-Expose-Headers %q", exposed)
	}
}

func TestCORS_DefaultConfig(t *testing.T) {
	handler := CORS(nil)(okHandler())

	req := httptest.NewRequest("GET", "/films", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "http://localhost:5173" {
		t.Errorf("Default config should allow any origin, got %s", origin)
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("Default config must not allow credentials")
	}
}
