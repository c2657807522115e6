package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danellekruger/star-wars-api-wrapper/internal/api/handlers"
	"github.com/danellekruger/star-wars-api-wrapper/internal/apierr"
	"github.com/danellekruger/star-wars-api-wrapper/internal/cache"
	"github.com/danellekruger/star-wars-api-wrapper/internal/middleware"
)

// Deps are the collaborators the routes are served from.
type Deps struct {
	Films       handlers.FilmService
	Store       *cache.Store
	Responses   cache.ResponseCache // optional
	ResponseTTL time.Duration
	Hub         *handlers.Hub           // optional, disables /ws/cache when nil
	RateLimiter *middleware.RateLimiter // optional
	CORS        *middleware.CORSConfig  // nil uses the defaults
}

// NewRouter builds the route table and wraps it in the middleware chain.
func NewRouter(d Deps) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Metrics)
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/", handlers.Root).Methods("GET")
	r.HandleFunc("/health", handlers.Health(d.Store)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Films
	films := handlers.NewFilmsHandler(d.Films, d.Responses, d.ResponseTTL)
	r.Handle("/films", middleware.ETag(http.HandlerFunc(films.ListFilms))).Methods("GET")
	film := r.PathPrefix("/films/{id}").Subrouter()
	film.Use(middleware.PositiveIntVar("id"), middleware.ETag)
	film.HandleFunc("", films.GetFilm).Methods("GET")
	film.HandleFunc("/{relation}", films.GetRelated).Methods("GET")

	// Cache administration
	admin := handlers.NewCacheAdminHandler(d.Store, d.Responses)
	r.HandleFunc("/cache/stats", admin.GetCacheStats).Methods("GET")
	r.HandleFunc("/cache/clear", admin.ClearCache).Methods("POST")
	r.HandleFunc("/cache/{key}", admin.InvalidateKey).Methods("DELETE")

	if d.Hub != nil {
		r.HandleFunc("/ws/cache", handlers.NewWebSocketHandler(d.Hub).HandleWebSocket).Methods("GET")
	}

	var h http.Handler = r
	h = middleware.Compress(h)
	h = middleware.LimitRequestBody(h)
	if d.RateLimiter != nil {
		h = d.RateLimiter.Limit(h)
	}
	h = middleware.CORS(d.CORS)(h)
	h = middleware.SecurityHeaders(h)
	h = middleware.RecoverWithSentry(h)
	h = middleware.RequestID(h)
	return h
}

func notFound(w http.ResponseWriter, r *http.Request) {
	apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("route"))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apierr.WriteErrorWithContext(w, r, apierr.MethodNotAllowed(r.Method))
}
