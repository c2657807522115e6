package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func TestParsePositiveInt(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"1", 1, true},
		{"42", 42, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"+1", 0, false},
		{"01", 0, false},
		{"1.5", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{" 1", 0, false},
		{"99999999999999999999999", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePositiveInt(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParsePositiveInt(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPositiveIntVar(t *testing.T) {
	r := mux.NewRouter()
	sub := r.PathPrefix("/films/{id}").Subrouter()
	sub.Use(PositiveIntVar("id"))
	sub.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		path string
		want int
	}{
		{"/films/1", http.StatusOK},
		{"/films/0", http.StatusBadRequest},
		{"/films/abc", http.StatusBadRequest},
		{"/films/-3", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest("GET", tt.path, nil))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want != http.StatusBadRequest {
				return
			}
			var body struct {
				Error struct {
					Code    string                 `json:"code"`
					Details map[string]interface{} `json:"details"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != "VALIDATION_INVALID_VALUE" {
				t.Errorf("code = %q", body.Error.Code)
			}
			if body.Error.Details["field"] != "id" {
				t.Errorf("details = %v", body.Error.Details)
			}
		})
	}
}

func TestLimitRequestBody(t *testing.T) {
	handler := LimitRequestBody(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/cache/clear", strings.NewReader("{}")))
	if rr.Code != http.StatusOK {
		t.Errorf("small body: got %d", rr.Code)
	}

	big := strings.NewReader(strings.Repeat("x", MaxRequestBodySize+1))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/cache/clear", big))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body: got %d, want 413", rr.Code)
	}
}

func TestValidCacheKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"film_1", true},
		{"film_1_characters", true},
		{"people_12", true},
		{"films_all", true},
		{"", false},
		{"Film_1", false},
		{"film-1", false},
		{"../etc", false},
		{strings.Repeat("a", maxCacheKeyLen+1), false},
	}
	for _, tt := range tests {
		if got := ValidCacheKey(tt.key); got != tt.want {
			t.Errorf("ValidCacheKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
