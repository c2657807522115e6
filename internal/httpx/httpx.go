package httpx

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
	"github.com/danellekruger/star-wars-api-wrapper/internal/metrics"
)

// ErrExhausted is returned if the loop ends without a final attempt outcome.
var ErrExhausted = errors.New("httpx: exhausted retries")

// maxDrain bounds how much of a discarded body is read so the connection can be reused.
const maxDrain = 64 << 10

// Policy controls the retry loop.
type Policy struct {
	MaxRetries    int           // retries after the first attempt; attempts = MaxRetries+1
	BaseDelay     time.Duration // backoff is BaseDelay*attempt plus jitter
	MaxRetryAfter time.Duration // cap on honored Retry-After waits, 0 = 30s
	LogRetries    bool
}

// PreAttempt lets callers run logic (e.g., rate limiting) before each try; return an error to abort.
type PreAttempt func(ctx context.Context, attempt int) error

// AttemptInfo describes a single attempt outcome.
type AttemptInfo struct {
	Attempt int
	Method  string
	URL     string
	Status  int
	Err     error
	Wait    time.Duration
}

// Observer callback to report attempt telemetry.
type Observer func(info AttemptInfo)

// Retryable reports whether a status code is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Do issues the request produced by build, retrying transport errors, 429 and 5xx.
//
// A non-retryable response (2xx-4xx except 429) is returned as-is, as is the last
// retryable response once retries are spent; the caller owns and must close its body.
// Every discarded response body is drained and closed before the next attempt.
// Cancellation of ctx stops the loop immediately, including during backoff.
func Do(ctx context.Context, client *http.Client, policy Policy, build func(ctx context.Context) (*http.Request, error), pre PreAttempt, obs Observer) (*http.Response, int, error) {
	maxAttempts := policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	maxRetryAfter := policy.MaxRetryAfter
	if maxRetryAfter <= 0 {
		maxRetryAfter = 30 * time.Second
	}
	log := logger.FromContext(ctx, "httpx")
	report := func(info AttemptInfo) {
		if obs != nil {
			obs(info)
		}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if pre != nil {
			if err := pre(ctx, attempt); err != nil {
				return nil, attempt - 1, err
			}
		}
		req, err := build(ctx)
		if err != nil {
			return nil, attempt - 1, err
		}

		var wait time.Duration
		resp, err := client.Do(req)
		if err != nil {
			// Network or transport error
			metrics.UpstreamHTTPRequests.WithLabelValues("error").Inc()
			if attempt == maxAttempts || ctx.Err() != nil {
				if policy.LogRetries {
					log.Warn("upstream attempt failed, no more retries", "attempt", attempt, "method", req.Method, "url", req.URL.String(), "error", err)
				}
				report(AttemptInfo{Attempt: attempt, Method: req.Method, URL: req.URL.String(), Err: err})
				return nil, attempt, err
			}
		} else {
			if !Retryable(resp.StatusCode) {
				metrics.UpstreamHTTPRequests.WithLabelValues("success").Inc()
				if policy.LogRetries && attempt > 1 {
					log.Info("upstream attempt succeeded after retry", "attempt", attempt, "method", req.Method, "url", req.URL.String(), "status", resp.StatusCode)
				}
				report(AttemptInfo{Attempt: attempt, Method: req.Method, URL: req.URL.String(), Status: resp.StatusCode})
				return resp, attempt, nil
			}
			metrics.UpstreamHTTPRequests.WithLabelValues("retry").Inc()
			if attempt == maxAttempts {
				if policy.LogRetries {
					log.Warn("upstream attempt failed, giving up", "attempt", attempt, "method", req.Method, "url", req.URL.String(), "status", resp.StatusCode)
				}
				report(AttemptInfo{Attempt: attempt, Method: req.Method, URL: req.URL.String(), Status: resp.StatusCode})
				return resp, attempt, nil
			}
			wait = retryAfter(resp.Header.Get("Retry-After"), maxRetryAfter)
			if wait > 0 {
				metrics.UpstreamRetryAfterWaits.Observe(wait.Seconds())
			}
			discard(resp)
			err = errors.New(resp.Status)
		}

		metrics.UpstreamHTTPRetries.Inc()
		if wait <= 0 {
			wait = backoff(policy.BaseDelay, attempt)
		}
		if policy.LogRetries {
			log.Warn("upstream attempt failed, backing off", "attempt", attempt, "wait", wait, "method", req.Method, "url", req.URL.String(), "error", err)
		}
		report(AttemptInfo{Attempt: attempt, Method: req.Method, URL: req.URL.String(), Status: statusOf(resp), Err: err, Wait: wait})

		if err := sleep(ctx, wait); err != nil {
			return nil, attempt, err
		}
	}
	return nil, maxAttempts, ErrExhausted
}

// backoff is linear in the attempt number with up to 20% (max 200ms) jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(attempt)
	if j := base / 5; j > 0 {
		if j > 200*time.Millisecond {
			j = 200 * time.Millisecond
		}
		delay += time.Duration(rand.Int63n(int64(j)))
	}
	return delay
}

// retryAfter parses a Retry-After header as seconds or an HTTP date, capped at max.
func retryAfter(ra string, max time.Duration) time.Duration {
	if ra == "" {
		return 0
	}
	var wait time.Duration
	if secs, err := strconv.Atoi(ra); err == nil {
		wait = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(ra); err == nil {
		wait = time.Until(t)
	}
	if wait < 0 {
		return 0
	}
	if wait > max {
		return max
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func discard(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrain)
	_ = resp.Body.Close()
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
