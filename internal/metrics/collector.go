package metrics

import (
	"context"
	"time"

	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
)

// CacheSnapshot is the slice of cache statistics exported as gauges.
type CacheSnapshot struct {
	Live      int
	Expired   int
	Responses int64 // items in the rendered response cache, -1 if unknown
}

// CacheSource produces a CacheSnapshot; it must not mutate the cache.
type CacheSource func() (CacheSnapshot, error)

// Collector periodically collects and updates Prometheus gauges
type Collector struct {
	source   CacheSource
	interval time.Duration
	stop     chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source CacheSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect initial metrics
	c.Collect()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stop)
}

// Collect runs one collection pass.
func (c *Collector) Collect() {
	snap, err := c.source()
	if err != nil {
		logger.WithComponent("metrics").Warn("cache stats collection failed", "error", err)
		MetricsCollectionErrors.WithLabelValues("cache").Inc()
		// Signal stale data
		CacheEntries.WithLabelValues("live").Set(-1)
		CacheEntries.WithLabelValues("expired").Set(-1)
		return
	}
	CacheEntries.WithLabelValues("live").Set(float64(snap.Live))
	CacheEntries.WithLabelValues("expired").Set(float64(snap.Expired))
	if snap.Responses >= 0 {
		APICacheItems.Set(float64(snap.Responses))
	}
}
