package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danellekruger/star-wars-api-wrapper/internal/apierr"
	"github.com/gorilla/mux"
)

// MaxRequestBodySize bounds request bodies. The API takes no payloads, so
// anything larger than a small envelope is refused.
const MaxRequestBodySize = 64 * 1024

// maxCacheKeyLen bounds the {key} segment of cache admin routes.
const maxCacheKeyLen = 128

// LimitRequestBody caps bodies of methods that may carry one.
func LimitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// PositiveIntVar rejects requests whose route variable name is not a
// positive decimal integer.
func PositiveIntVar(name string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := mux.Vars(r)[name]
			if _, ok := ParsePositiveInt(raw); !ok {
				apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue(name, "must be a positive integer"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParsePositiveInt parses s as a decimal integer > 0. Signs, spaces and
// leading zeros are refused so every id has exactly one spelling.
func ParsePositiveInt(s string) (int, bool) {
	if s == "" || s[0] < '1' || s[0] > '9' {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ValidCacheKey reports whether key is shaped like a cache key:
// non-empty, bounded, lowercase letters, digits and the separator only.
func ValidCacheKey(key string) bool {
	if key == "" || len(key) > maxCacheKeyLen {
		return false
	}
	return strings.IndexFunc(key, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	}) < 0
}
