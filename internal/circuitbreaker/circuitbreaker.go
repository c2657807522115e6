// Package circuitbreaker stops calls to a failing dependency for a cool-down
// period and then lets a limited number of probes through.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
	"github.com/danellekruger/star-wars-api-wrapper/internal/metrics"
)

// ErrCircuitOpen is returned without running the call while the breaker is
// open, or half-open with every probe slot taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the breaker, default 5
	SuccessThreshold int           // probe successes that close it again, default 2
	Timeout          time.Duration // open period before probing, default 60s
	MaxProbes        int           // concurrent calls allowed while half-open, default 1
	// IsFailure decides whether an error counts against the breaker.
	// Nil counts every non-nil error.
	IsFailure func(error) bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// CircuitBreaker guards calls to one dependency.
type CircuitBreaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// New creates a closed breaker.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(float64(StateClosed))
	return &CircuitBreaker{cfg: cfg}
}

type outcome int

const (
	success outcome = iota
	failure
	// neutral calls say nothing about the dependency, e.g. the caller gave up
	neutral
)

// Call runs fn unless the breaker rejects it. Errors IsFailure does not count
// still prove the dependency is reachable and count as successes. A call
// ended by context.Canceled counts as neither.
func (cb *CircuitBreaker) Call(fn func() error) error {
	probe, ok := cb.acquire()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	cb.record(probe, cb.classify(err))
	return err
}

func (cb *CircuitBreaker) classify(err error) outcome {
	switch {
	case err == nil:
		return success
	case errors.Is(err, context.Canceled):
		return neutral
	case cb.cfg.IsFailure(err):
		return failure
	}
	return success
}

// GetState returns the current state without advancing it.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// acquire admits a call, moving open to half-open once the timeout elapsed.
// probe reports whether the call holds a half-open slot.
func (cb *CircuitBreaker) acquire() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.transition(StateHalfOpen)
	}

	switch cb.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		if cb.probes >= cb.cfg.MaxProbes {
			return false, false
		}
		cb.probes++
		return true, true
	default:
		return false, false
	}
}

func (cb *CircuitBreaker) record(probe bool, result outcome) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probes--
	}
	if result == neutral {
		return
	}

	switch cb.state {
	case StateClosed:
		if result == success {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// results of calls admitted before the breaker opened are ignored
		if !probe {
			return
		}
		if result == failure {
			cb.transition(StateOpen)
			return
		}
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// transition switches state and resets the counters; caller holds mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if to == StateOpen {
		cb.openedAt = cb.cfg.Now()
		metrics.CircuitBreakerTrips.WithLabelValues(cb.cfg.Name).Inc()
	}
	metrics.CircuitBreakerState.WithLabelValues(cb.cfg.Name).Set(float64(to))
	logger.WithComponent("circuitbreaker").Info("circuit breaker state changed",
		"breaker", cb.cfg.Name, "from", from.String(), "to", to.String())
}
