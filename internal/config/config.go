package config

import (
	"os"
	"strings"
	"time"

	"github.com/danellekruger/star-wars-api-wrapper/internal/utils"
)

// DefaultBaseURL is the public SWAPI root.
const DefaultBaseURL = "https://swapi.dev/api"

// Config holds application configuration derived from environment variables.
type Config struct {
	Port string
	// Upstream (SWAPI) client
	BaseURL            string
	UserAgent          string
	UpstreamMaxRetries int           // retries after the first attempt
	UpstreamRetryDelay time.Duration // base delay, multiplied by attempt number
	UpstreamTimeout    time.Duration // overall bound for one logical fetch
	UpstreamRPS        float64       // requests per second to the upstream
	UpstreamBurst      int
	LogHTTPRetries     bool
	// Circuit breaker around the upstream
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration
	// Resolution cache
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration // 0 disables the background sweep
	CacheSweepGrace    time.Duration
	FanOutLimit        int // max concurrent link fetches per relation, 0 = unbounded
	// Rendered response cache (ristretto)
	ResponseCacheTTL   time.Duration
	ResponseCacheMaxMB int64
	// Stats stream
	StatsPushInterval time.Duration
	// Security settings
	RateLimitGlobal      float64  // requests per second globally
	RateLimitGlobalBurst int      // burst size for global rate limit
	RateLimitPerIP       float64  // requests per second per IP
	RateLimitPerIPBurst  int      // burst size for per-IP rate limit
	CORSAllowedOrigins   []string // allowed CORS origins
	EnableRateLimit      bool     // enable rate limiting middleware
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
	SentrySampleRate  float64 // Sentry error sampling rate (0.0 to 1.0)
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	cached = &Config{
		Port:               utils.GetEnvAsString("PORT", "8000"),
		BaseURL:            strings.TrimRight(utils.GetEnvAsString("SWAPI_BASE_URL", DefaultBaseURL), "/"),
		UserAgent:          utils.GetEnvAsString("SWAPI_USER_AGENT", "star-wars-api-wrapper/1.0"),
		UpstreamMaxRetries: utils.GetEnvAsInt("UPSTREAM_MAX_RETRIES", 2),
		UpstreamRetryDelay: utils.GetEnvAsDuration("UPSTREAM_RETRY_DELAY_MS", time.Millisecond, time.Second),
		UpstreamTimeout:    utils.GetEnvAsDuration("UPSTREAM_TIMEOUT_MS", time.Millisecond, 30*time.Second),
		UpstreamRPS:        utils.GetEnvAsFloat("UPSTREAM_RPS", 10.0),
		UpstreamBurst:      utils.GetEnvAsInt("UPSTREAM_BURST", 10),
		LogHTTPRetries:     utils.GetEnvAsBool("LOG_HTTP_RETRIES", false),
		// Breaker opens after a run of transient upstream failures
		BreakerFailureThreshold: utils.GetEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerSuccessThreshold: utils.GetEnvAsInt("BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerTimeout:          utils.GetEnvAsDuration("BREAKER_TIMEOUT_SECONDS", time.Second, 30*time.Second),
		// 5 minute resolution cache by default
		CacheTTL:           utils.GetEnvAsDuration("CACHE_TTL_SECONDS", time.Second, 300*time.Second),
		CacheSweepInterval: utils.GetEnvAsDuration("CACHE_SWEEP_INTERVAL_SECONDS", time.Second, time.Minute),
		CacheSweepGrace:    utils.GetEnvAsDuration("CACHE_SWEEP_GRACE_SECONDS", time.Second, 30*time.Second),
		FanOutLimit:        utils.GetEnvAsInt("FANOUT_LIMIT", 0),
		ResponseCacheTTL:   utils.GetEnvAsDuration("RESPONSE_CACHE_TTL_SECONDS", time.Second, 30*time.Second),
		ResponseCacheMaxMB: int64(utils.GetEnvAsInt("RESPONSE_CACHE_MAX_MB", 16)),
		StatsPushInterval:  utils.GetEnvAsDuration("CACHE_STATS_PUSH_SECONDS", time.Second, 5*time.Second),
		// Security settings with sensible defaults
		RateLimitGlobal:      utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 100.0),
		RateLimitGlobalBurst: utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 200),
		RateLimitPerIP:       utils.GetEnvAsFloat("RATE_LIMIT_PER_IP", 10.0),
		RateLimitPerIPBurst:  utils.GetEnvAsInt("RATE_LIMIT_PER_IP_BURST", 20),
		EnableRateLimit:      utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),
		CORSAllowedOrigins:   utils.GetEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}, ","),
		// Observability settings
		LogLevel:          strings.ToLower(utils.GetEnvAsString("LOG_LEVEL", "info")),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
		SentrySampleRate:  utils.GetEnvAsFloat("SENTRY_SAMPLE_RATE", 1.0),
	}
	if cached.UpstreamMaxRetries < 1 {
		cached.UpstreamMaxRetries = 1
	}
	if cached.UpstreamTimeout <= 0 {
		cached.UpstreamTimeout = 30 * time.Second
	}
	if cached.CacheTTL <= 0 {
		cached.CacheTTL = 300 * time.Second
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}
	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }
