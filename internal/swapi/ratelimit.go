package swapi

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/danellekruger/star-wars-api-wrapper/internal/metrics"
)

// newLimiter builds the token bucket that paces upstream attempts. A
// non-positive rps disables pacing.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// waitForRateLimit blocks until a token is available or ctx is done.
func (c *Client) waitForRateLimit(ctx context.Context, attempt int) error {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if time.Since(start) > time.Millisecond {
		metrics.UpstreamRateLimitWaits.Inc()
	}
	return nil
}
