package resolver

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/danellekruger/star-wars-api-wrapper/internal/cache"
	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
	"github.com/danellekruger/star-wars-api-wrapper/internal/metrics"
	"github.com/danellekruger/star-wars-api-wrapper/internal/swapi"
	"github.com/danellekruger/star-wars-api-wrapper/internal/tracing"
)

// maxListPages bounds how many "next" pages of the film list are followed.
const maxListPages = 20

// Fetcher is the upstream the resolver reads through the cache.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (swapi.Resource, error)
}

// Options configures a Resolver.
type Options struct {
	// TTL applies to every entry the resolver stores; 0 uses the store default.
	TTL time.Duration
	// FanOutLimit caps concurrent link resolutions per request; 0 is unbounded.
	FanOutLimit int
}

// Resolver fetches films and their related resources through a cache.Store.
type Resolver struct {
	store    *cache.Store
	upstream Fetcher
	ttl      time.Duration
	limit    int
}

// New creates a Resolver reading upstream through store.
func New(store *cache.Store, upstream Fetcher, opts Options) *Resolver {
	return &Resolver{
		store:    store,
		upstream: upstream,
		ttl:      opts.TTL,
		limit:    opts.FanOutLimit,
	}
}

// CacheStats returns the backing store's statistics.
func (r *Resolver) CacheStats() cache.Stats { return r.store.Stats() }

// GetAllPrimary returns every film ordered by episode.
func (r *Resolver) GetAllPrimary(ctx context.Context) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.GetAllPrimary")
	start := time.Now()

	v, err := r.store.GetOrLoad(ctx, cache.Key("films", "all"), r.ttl, func(ctx context.Context) (any, error) {
		films, err := r.fetchFilmList(ctx)
		if err != nil {
			return nil, err
		}
		sortByEpisode(films)
		return Result{Count: len(films), Items: films}, nil
	})
	res, err := as[Result](v, err)

	r.observe("all_primary", start, err)
	tracing.EndSpan(span, err)
	return res, err
}

// fetchFilmList follows the list's "next" links until the last page.
func (r *Resolver) fetchFilmList(ctx context.Context) ([]swapi.Resource, error) {
	var films []swapi.Resource
	path := "films/"
	for page := 0; page < maxListPages && path != ""; page++ {
		body, err := r.upstream.Fetch(ctx, path)
		if err != nil {
			return nil, err
		}
		results, _ := body["results"].([]any)
		for _, item := range results {
			if film, ok := item.(map[string]any); ok {
				films = append(films, swapi.Resource(film))
			}
		}
		path, _ = body["next"].(string)
	}
	return films, nil
}

// GetPrimary returns the film with id.
func (r *Resolver) GetPrimary(ctx context.Context, id int) (swapi.Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.GetPrimary", attribute.Int("film.id", id))
	start := time.Now()

	film, err := r.getPrimary(ctx, id)

	r.observe("primary", start, err)
	tracing.EndSpan(span, err)
	return film, err
}

func (r *Resolver) getPrimary(ctx context.Context, id int) (swapi.Resource, error) {
	v, err := r.store.GetOrLoad(ctx, cache.Key("film", strconv.Itoa(id)), r.ttl, func(ctx context.Context) (any, error) {
		return r.upstream.Fetch(ctx, fmt.Sprintf("films/%d/", id))
	})
	return as[swapi.Resource](v, err)
}

// GetRelated resolves every kind link of film id concurrently. Items keep the
// order the links have in the film. The first failing link fails the whole
// call and cancels the links still in flight.
func (r *Resolver) GetRelated(ctx context.Context, id int, kind string) (Result, error) {
	if !IsRelationKind(kind) {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownRelation, kind)
	}
	ctx, span := tracing.StartSpan(ctx, "resolver.GetRelated",
		attribute.Int("film.id", id),
		attribute.String("film.relation", kind),
	)
	start := time.Now()

	v, err := r.store.GetOrLoad(ctx, cache.Key("film", strconv.Itoa(id), kind), r.ttl, func(ctx context.Context) (any, error) {
		return r.resolveRelated(ctx, id, kind)
	})
	res, err := as[Result](v, err)

	r.observe("related", start, err)
	tracing.EndSpan(span, err)
	return res, err
}

func (r *Resolver) resolveRelated(ctx context.Context, id int, kind string) (Result, error) {
	film, err := r.getPrimary(ctx, id)
	if err != nil {
		return Result{}, err
	}

	links := Links(film, kind)
	metrics.ResolverFanOutSize.Observe(float64(len(links)))
	items := make([]swapi.Resource, len(links))
	if len(links) == 0 {
		return Result{Count: 0, SourceID: id, Relation: kind, Items: items}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, link := range links {
		i, link := i, link
		g.Go(func() error {
			item, err := r.resolveLink(gctx, link)
			if err != nil {
				return fmt.Errorf("resolve %s[%d] %s: %w", kind, i, link, err)
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.FromContext(ctx, "resolver").Error("fan-out failed", "film_id", id, "relation", kind, "links", len(links), "error", err)
		return Result{}, err
	}

	logger.FromContext(ctx, "resolver").Info("resolved related resources", "film_id", id, "relation", kind, "count", len(items))
	return Result{Count: len(items), SourceID: id, Relation: kind, Items: items}, nil
}

func (r *Resolver) resolveLink(ctx context.Context, link string) (swapi.Resource, error) {
	key, err := cache.LinkKey(link)
	if err != nil {
		return nil, &swapi.APIError{Kind: swapi.ErrUnavailable, Path: link, Err: err}
	}
	v, err := r.store.GetOrLoad(ctx, key, r.ttl, func(ctx context.Context) (any, error) {
		return r.upstream.Fetch(ctx, link)
	})
	return as[swapi.Resource](v, err)
}

func (r *Resolver) observe(op string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ResolverDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// as asserts a cached value back to T.
func as[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("resolver: cached value is %T, want %T", v, zero)
	}
	return t, nil
}
