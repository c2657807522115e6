package swapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/danellekruger/star-wars-api-wrapper/internal/circuitbreaker"
	"github.com/danellekruger/star-wars-api-wrapper/internal/httpx"
	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
	"github.com/danellekruger/star-wars-api-wrapper/internal/metrics"
	"github.com/danellekruger/star-wars-api-wrapper/internal/tracing"
)

// maxBody caps a decoded upstream payload.
const maxBody = 8 << 20

// Resource is a decoded upstream JSON object. Fields are passed through untouched.
type Resource map[string]any

// Options configures a Client. Zero values fall back to the defaults below.
type Options struct {
	BaseURL    string // e.g. https://swapi.dev/api
	UserAgent  string
	MaxRetries int           // retries after the first attempt, at least 1
	RetryDelay time.Duration // default 1s
	Timeout    time.Duration // bound on one logical Fetch, default 30s
	RPS        float64       // attempt pacing, <= 0 disables
	Burst      int
	LogRetries bool
	Breaker    circuitbreaker.Config
	HTTPClient *http.Client
}

// Client fetches resources from the upstream catalog.
type Client struct {
	base      *url.URL
	baseStr   string
	userAgent string
	timeout   time.Duration
	policy    httpx.Policy
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *circuitbreaker.CircuitBreaker
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	baseStr := strings.TrimRight(opts.BaseURL, "/")
	base, err := url.Parse(baseStr)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("swapi: invalid base URL %q", opts.BaseURL)
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "star-wars-api-wrapper/1.0"
	}

	hc := opts.HTTPClient
	if hc == nil {
		// a hung attempt must leave room for the retries inside the overall timeout
		hc = &http.Client{Timeout: opts.Timeout / time.Duration(opts.MaxRetries+1)}
	}

	bcfg := opts.Breaker
	if bcfg.Name == "" {
		bcfg.Name = "swapi"
	}
	if bcfg.IsFailure == nil {
		bcfg.IsFailure = IsTransient
	}

	return &Client{
		base:      base,
		baseStr:   baseStr,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		policy: httpx.Policy{
			MaxRetries: opts.MaxRetries,
			BaseDelay:  opts.RetryDelay,
			LogRetries: opts.LogRetries,
		},
		http:    hc,
		limiter: newLimiter(opts.RPS, opts.Burst),
		breaker: circuitbreaker.New(bcfg),
	}, nil
}

// BaseURL returns the normalized upstream base URL.
func (c *Client) BaseURL() string { return c.baseStr }

// BreakerState reports the upstream circuit breaker state.
func (c *Client) BreakerState() circuitbreaker.State { return c.breaker.GetState() }

// Fetch performs one logical GET of path, which is relative to the base URL
// ("films/2/") or an absolute link under it. Failures are *APIError values
// of kind ErrNotFound, ErrUnavailable or ErrRejected.
func (c *Client) Fetch(ctx context.Context, path string) (Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "swapi.Fetch", attribute.String("swapi.path", path))
	start := time.Now()

	res, err := c.fetch(ctx, path)

	outcome := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrRejected):
		outcome = "rejected"
	case err != nil:
		outcome = "unavailable"
	}
	metrics.UpstreamFetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrNotFound) {
		logger.FromContext(ctx, "swapi").Warn("upstream fetch failed", "path", path, "error", err)
	}
	tracing.EndSpan(span, err)
	return res, err
}

func (c *Client) fetch(ctx context.Context, path string) (Resource, error) {
	target, rel, err := c.resolve(path)
	if err != nil {
		return nil, &APIError{Kind: ErrRejected, Path: path, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	var res Resource
	err = c.breaker.Call(func() error {
		resp, attempts, err := httpx.Do(ctx, c.http, c.policy, build, c.waitForRateLimit, nil)
		if err != nil {
			return &APIError{Kind: ErrUnavailable, Path: rel, Attempts: attempts, Err: err}
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
			_ = resp.Body.Close()
		}()

		if classifyStatus(resp.StatusCode) != nil {
			return classifyResponse(resp, rel, attempts)
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&res); err != nil {
			return &APIError{Kind: ErrUnavailable, StatusCode: resp.StatusCode, Path: rel, Attempts: attempts, Err: fmt.Errorf("decode body: %w", err)}
		}
		if res == nil {
			return &APIError{Kind: ErrUnavailable, StatusCode: resp.StatusCode, Path: rel, Attempts: attempts, Err: errors.New("empty JSON object")}
		}
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return nil, &APIError{Kind: ErrUnavailable, Path: rel, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// resolve turns path into an absolute URL plus its base-relative form. Links
// pointing outside the base URL are refused.
func (c *Client) resolve(path string) (string, string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		u, err := url.Parse(path)
		if err != nil {
			return "", "", err
		}
		if u.Scheme != c.base.Scheme || u.Host != c.base.Host || !strings.HasPrefix(u.Path, c.base.Path+"/") {
			return "", "", fmt.Errorf("link %q is outside %s", path, c.baseStr)
		}
		return u.String(), strings.TrimPrefix(u.Path, c.base.Path+"/"), nil
	}
	rel := strings.TrimLeft(path, "/")
	if rel == "" {
		return "", "", errors.New("empty path")
	}
	return c.baseStr + "/" + rel, rel, nil
}
