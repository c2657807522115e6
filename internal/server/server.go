package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danellekruger/star-wars-api-wrapper/internal/api"
	"github.com/danellekruger/star-wars-api-wrapper/internal/api/handlers"
	"github.com/danellekruger/star-wars-api-wrapper/internal/cache"
	"github.com/danellekruger/star-wars-api-wrapper/internal/circuitbreaker"
	"github.com/danellekruger/star-wars-api-wrapper/internal/config"
	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
	"github.com/danellekruger/star-wars-api-wrapper/internal/metrics"
	"github.com/danellekruger/star-wars-api-wrapper/internal/middleware"
	"github.com/danellekruger/star-wars-api-wrapper/internal/resolver"
	"github.com/danellekruger/star-wars-api-wrapper/internal/swapi"
)

// responseCacheMaxEntries sizes ristretto's admission counters.
const responseCacheMaxEntries = 10_000

// Server owns every long-lived component and the HTTP listener.
type Server struct {
	Store     *cache.Store
	Responses *cache.LRUCache
	Upstream  *swapi.Client
	Resolver  *resolver.Resolver

	hub       *handlers.Hub
	limiter   *middleware.RateLimiter
	collector *metrics.Collector
	http      *http.Server

	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// New builds the component graph from cfg. Nothing runs until Start.
func New(cfg *config.Config) (*Server, error) {
	upstream, err := swapi.New(swapi.Options{
		BaseURL:    cfg.BaseURL,
		UserAgent:  cfg.UserAgent,
		MaxRetries: cfg.UpstreamMaxRetries,
		RetryDelay: cfg.UpstreamRetryDelay,
		Timeout:    cfg.UpstreamTimeout,
		RPS:        cfg.UpstreamRPS,
		Burst:      cfg.UpstreamBurst,
		LogRetries: cfg.LogHTTPRetries,
		Breaker: circuitbreaker.Config{
			Name:             "swapi",
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upstream client: %w", err)
	}

	responses, err := cache.NewLRU(cfg.ResponseCacheMaxMB, responseCacheMaxEntries, cfg.ResponseCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("response cache: %w", err)
	}

	store := cache.NewStore(cache.Options{DefaultTTL: cfg.CacheTTL, Grace: cfg.CacheSweepGrace})
	res := resolver.New(store, upstream, resolver.Options{TTL: cfg.CacheTTL, FanOutLimit: cfg.FanOutLimit})

	s := &Server{
		Store:     store,
		Responses: responses,
		Upstream:  upstream,
		Resolver:  res,
	}

	admin := handlers.NewCacheAdminHandler(store, responses)
	s.hub = handlers.NewHub(func() any { return admin.Snapshot() }, cfg.StatsPushInterval)
	s.collector = metrics.NewCollector(s.cacheSnapshot, cfg.StatsPushInterval)

	if cfg.EnableRateLimit {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitGlobal, cfg.RateLimitGlobalBurst, cfg.RateLimitPerIP, cfg.RateLimitPerIPBurst)
	}

	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.CORSAllowedOrigins) > 0 {
		corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	}

	handler := api.NewRouter(api.Deps{
		Films:       res,
		Store:       store,
		Responses:   responses,
		ResponseTTL: cfg.ResponseCacheTTL,
		Hub:         s.hub,
		RateLimiter: s.limiter,
		CORS:        corsCfg,
	})

	s.http = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// related-resource resolution may take the whole upstream budget
		WriteTimeout: cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.http.Addr }

// Start launches the background work: cache sweeper, metrics collector and
// the stats stream hub. It does not block.
func (s *Server) Start(ctx context.Context, sweepInterval time.Duration) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.Store.StartSweeper(ctx, sweepInterval)
	go s.collector.Start(ctx)
	go s.hub.Run(ctx)
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	logger.Info("HTTP server listening", "addr", l.Addr().String(), "upstream", s.Upstream.BaseURL())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown drains in-flight requests, stops the background work and clears
// the caches. Calling it more than once is harmless.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.http.Shutdown(ctx)

		if s.cancel != nil {
			s.cancel()
			s.collector.Stop()
		}
		s.hub.Stop()
		if s.limiter != nil {
			s.limiter.Stop()
		}

		cleared := s.Store.Clear()
		s.Responses.Clear()
		s.Responses.Close()
		logger.Info("Server stopped", "cleared_entries", cleared)
	})
	return err
}

func (s *Server) cacheSnapshot() (metrics.CacheSnapshot, error) {
	st := s.Store.Stats()
	return metrics.CacheSnapshot{
		Live:      st.LiveEntries,
		Expired:   st.ExpiredEntries,
		Responses: s.Responses.Stats().Items,
	}, nil
}
