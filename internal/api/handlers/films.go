package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"

	"github.com/danellekruger/star-wars-api-wrapper/internal/apierr"
	"github.com/danellekruger/star-wars-api-wrapper/internal/cache"
	"github.com/danellekruger/star-wars-api-wrapper/internal/errorreporting"
	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
	"github.com/danellekruger/star-wars-api-wrapper/internal/metrics"
	"github.com/danellekruger/star-wars-api-wrapper/internal/resolver"
	"github.com/danellekruger/star-wars-api-wrapper/internal/swapi"
)

// FilmService is the resolver surface the film endpoints need.
type FilmService interface {
	GetAllPrimary(ctx context.Context) (resolver.Result, error)
	GetPrimary(ctx context.Context, id int) (swapi.Resource, error)
	GetRelated(ctx context.Context, id int, kind string) (resolver.Result, error)
}

// FilmListResponse is the body of GET /films.
type FilmListResponse struct {
	Count   int              `json:"count"`
	Message string           `json:"message"`
	Results []map[string]any `json:"results"`
}

// RelatedResponse is the body of GET /films/{id}/{relation}.
type RelatedResponse struct {
	Count    int              `json:"count"`
	FilmID   int              `json:"film_id"`
	Relation string           `json:"relation"`
	Message  string           `json:"message"`
	Results  []map[string]any `json:"results"`
}

// FilmsHandler serves films and their related resources. Rendered bodies are
// kept in a short-lived response cache in front of the resolver.
type FilmsHandler struct {
	svc       FilmService
	responses cache.ResponseCache
	ttl       time.Duration
}

// NewFilmsHandler creates a film handler. responses may be nil to disable
// response caching; ttl 0 uses the response cache default.
func NewFilmsHandler(svc FilmService, responses cache.ResponseCache, ttl time.Duration) *FilmsHandler {
	return &FilmsHandler{svc: svc, responses: responses, ttl: ttl}
}

// ListFilms returns every film ordered by episode.
// GET /films
func (h *FilmsHandler) ListFilms(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "films", "films", func(ctx context.Context) (any, error) {
		res, err := h.svc.GetAllPrimary(ctx)
		if err != nil {
			return nil, err
		}
		return FilmListResponse{
			Count:   res.Count,
			Message: "Successfully retrieved all films",
			Results: SummarizeAll(res.Items, FilmSummary),
		}, nil
	})
}

// GetFilm returns one film summary.
// GET /films/{id}
func (h *FilmsHandler) GetFilm(w http.ResponseWriter, r *http.Request) {
	id, ok := filmID(w, r)
	if !ok {
		return
	}
	h.serve(w, r, "film", cache.Key("film", strconv.Itoa(id)), func(ctx context.Context) (any, error) {
		film, err := h.svc.GetPrimary(ctx, id)
		if err != nil {
			return nil, err
		}
		return FilmSummary(film), nil
	})
}

// GetRelated returns the resources a film links to under {relation}, in the
// film's order or by name with ?sort=name.
// GET /films/{id}/{relation}
func (h *FilmsHandler) GetRelated(w http.ResponseWriter, r *http.Request) {
	id, ok := filmID(w, r)
	if !ok {
		return
	}
	relation := mux.Vars(r)["relation"]
	sortBy := r.URL.Query().Get("sort")
	if sortBy != "" && sortBy != "name" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("sort", "sort must be \"name\" when set"))
		return
	}

	key := cache.Key("film", strconv.Itoa(id), relation)
	if sortBy != "" {
		key = cache.Key("film", strconv.Itoa(id), relation, "by", sortBy)
	}
	h.serve(w, r, "related", key, func(ctx context.Context) (any, error) {
		res, err := h.svc.GetRelated(ctx, id, relation)
		if err != nil {
			return nil, err
		}
		items := res.Items
		if sortBy == "name" {
			items = resolver.SortByName(items)
		}
		return RelatedResponse{
			Count:    res.Count,
			FilmID:   id,
			Relation: relation,
			Message:  fmt.Sprintf("Successfully retrieved %s for film %d", relation, id),
			Results:  SummarizeAll(items, Summarize),
		}, nil
	})
}

// serve writes the cached rendering of key or renders, caches and writes it.
func (h *FilmsHandler) serve(w http.ResponseWriter, r *http.Request, endpoint, key string, render func(context.Context) (any, error)) {
	if h.responses != nil {
		if body, ok := h.responses.Get(key); ok {
			metrics.APICacheHits.WithLabelValues(endpoint).Inc()
			writeJSONBytes(w, http.StatusOK, body)
			return
		}
		metrics.APICacheMisses.WithLabelValues(endpoint).Inc()
	}

	v, err := render(r.Context())
	if err != nil {
		h.writeFailure(w, r, endpoint, err)
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		h.writeFailure(w, r, endpoint, err)
		return
	}
	if h.responses != nil {
		h.responses.Set(key, body, h.ttl)
	}
	writeJSONBytes(w, http.StatusOK, body)
}

// reportFailure forwards 5xx failures; replaced in tests.
var reportFailure = errorreporting.CaptureRequest

func (h *FilmsHandler) writeFailure(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	apiErr := apierr.FromError(err)
	log := logger.FromContext(r.Context(), "handlers")
	if apiErr.Status() >= http.StatusInternalServerError {
		log.Error("Request failed", "endpoint", endpoint, "path", r.URL.Path, "error", err, "code", apiErr.Code)
		reportFailure(r, err, sentry.LevelError, map[string]string{
			"endpoint": endpoint,
			"code":     string(apiErr.Code),
		})
	} else {
		log.Debug("Request rejected", "endpoint", endpoint, "path", r.URL.Path, "error", err, "code", apiErr.Code)
	}
	apierr.WriteErrorWithContext(w, r, apiErr)
}

// filmID parses the {id} route variable; route middleware normally rejects
// bad ids first.
func filmID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func writeJSONBytes(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
