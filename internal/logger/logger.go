// Package logger owns the process-wide slog logger and the request id
// carried through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type ctxKey struct{}

var current atomic.Pointer[slog.Logger]

// Init installs the default logger at the given level. Production (ENV=production)
// gets JSON lines on stdout; everything else gets the text handler.
func Init(level string) {
	InitWithWriter(os.Stdout, level, os.Getenv("ENV") == "production")
}

// InitWithWriter is Init with an explicit destination and format.
func InitWithWriter(w io.Writer, level string, json bool) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if json {
		h = slog.NewJSONHandler(w, opts)
	}
	l := slog.New(h)
	current.Store(l)
	slog.SetDefault(l)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Get returns the installed logger, installing an info-level one on first use.
func Get() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	Init("info")
	return current.Load()
}

// NewContext returns a child of ctx carrying the request id.
func NewContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID returns the request id stored by NewContext, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithComponent tags the logger with a component name.
func WithComponent(component string) *slog.Logger {
	return Get().With("component", component)
}

// FromContext is WithComponent plus the request id from ctx, when present.
func FromContext(ctx context.Context, component string) *slog.Logger {
	l := WithComponent(component)
	if id := RequestID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	return l
}

func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }
