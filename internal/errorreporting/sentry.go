// Package errorreporting forwards server-side failures to Sentry. With no DSN
// configured every function is a no-op.
package errorreporting

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
)

const redacted = "[REDACTED]"

var scrubbers = []*regexp.Regexp{
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret)["\s:=]+[a-zA-Z0-9_-]{16,}`),
	regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
}

// headers never forwarded with an event
var droppedHeaders = []string{"Authorization", "Cookie", "X-Api-Key", "X-Forwarded-For", "X-Real-Ip"}

var enabled atomic.Bool

// Options configures the Sentry client.
type Options struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// ErrInvalidDSN is returned by Init for a DSN that is not an http(s) URL.
var ErrInvalidDSN = errors.New("invalid Sentry DSN format")

// Init configures the Sentry client. An empty DSN disables reporting.
func Init(opts Options) error {
	enabled.Store(false)
	if opts.DSN == "" {
		return nil
	}
	if !strings.HasPrefix(opts.DSN, "https://") && !strings.HasPrefix(opts.DSN, "http://") {
		return ErrInvalidDSN
	}

	if opts.Release == "" {
		opts.Release = "dev"
	}
	if opts.SampleRate <= 0 || opts.SampleRate > 1 {
		opts.SampleRate = 1
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		SampleRate:       opts.SampleRate,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	}); err != nil {
		return err
	}
	enabled.Store(true)
	return nil
}

// IsSentryEnabled reports whether Init succeeded with a DSN.
func IsSentryEnabled() bool { return enabled.Load() }

// CaptureRequest reports err against the request that produced it, tagged
// with method, path and request id plus any extra tags.
func CaptureRequest(r *http.Request, err error, level sentry.Level, tags map[string]string) {
	if err == nil || !IsSentryEnabled() {
		return
	}
	hub := sentry.CurrentHub().Clone()
	scope := hub.Scope()
	scope.SetRequest(r)
	scope.SetLevel(level)
	scope.SetTag("method", r.Method)
	scope.SetTag("path", r.URL.Path)
	if id := logger.RequestID(r.Context()); id != "" {
		scope.SetTag("request_id", id)
	}
	for k, v := range tags {
		scope.SetTag(k, v)
	}
	hub.CaptureException(err)
}

// Flush blocks until queued events are sent or timeout passes.
func Flush(timeout time.Duration) bool {
	if !IsSentryEnabled() {
		return true
	}
	return sentry.Flush(timeout)
}

func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.Message = scrub(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = scrub(event.Exception[i].Value)
	}
	for k, v := range event.Extra {
		if s, ok := v.(string); ok {
			event.Extra[k] = scrub(s)
		}
	}
	if req := event.Request; req != nil {
		for _, h := range droppedHeaders {
			delete(req.Headers, h)
		}
		req.QueryString = ""
		req.Cookies = ""
	}
	return event
}

func scrub(s string) string {
	for _, re := range scrubbers {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}
