package tracing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	setTracer(tp.Tracer("test"))
	t.Cleanup(func() { setTracer(nil) })
	return rec
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init("svc", Options{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	if active.Load() != nil {
		t.Error("disabled Init installed a tracer")
	}
}

func TestInitEnabled(t *testing.T) {
	// exporter connects lazily, so nothing listens on this port
	shutdown, err := Init("svc", Options{Enabled: true, Endpoint: "127.0.0.1:14318", SampleRate: 1})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if active.Load() == nil {
		t.Error("enabled Init did not install a tracer")
	}
	_ = shutdown(context.Background())
	if active.Load() != nil {
		t.Error("shutdown left the tracer installed")
	}
}

func TestSamplerClampsRate(t *testing.T) {
	tests := map[float64]string{
		0.5: "root:TraceIDRatioBased{0.5}",
		-1:  "root:TraceIDRatioBased{0.1}",
		1.5: "root:TraceIDRatioBased{0.1}",
	}
	for rate, want := range tests {
		if desc := Sampler(rate).Description(); !strings.Contains(desc, want) {
			t.Errorf("Sampler(%v) = %s, want it to contain %s", rate, desc, want)
		}
	}
}

func TestEndSpan(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantStatus   codes.Code
		wantEvents   int
		wantCanceled bool
	}{
		{"success", nil, codes.Unset, 0, false},
		{"failure", errors.New("upstream unavailable"), codes.Error, 1, false},
		{"caller canceled", fmt.Errorf("fetch: %w", context.Canceled), codes.Unset, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := useRecorder(t)
			_, span := StartSpan(context.Background(), "op", attribute.String("swapi.path", "films/1/"))
			EndSpan(span, tt.err)

			ended := rec.Ended()
			if len(ended) != 1 {
				t.Fatalf("ended spans = %d", len(ended))
			}
			got := ended[0]
			if got.Status().Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", got.Status().Code, tt.wantStatus)
			}
			if len(got.Events()) != tt.wantEvents {
				t.Errorf("events = %d, want %d", len(got.Events()), tt.wantEvents)
			}
			canceled := false
			for _, kv := range got.Attributes() {
				if kv.Key == "canceled" {
					canceled = kv.Value.AsBool()
				}
			}
			if canceled != tt.wantCanceled {
				t.Errorf("canceled attribute = %v, want %v", canceled, tt.wantCanceled)
			}
		})
	}
}

func TestStartServerSpanKind(t *testing.T) {
	rec := useRecorder(t)
	_, span := StartServerSpan(context.Background(), "GET /films")
	span.End()
	if kind := rec.Ended()[0].SpanKind(); kind != trace.SpanKindServer {
		t.Errorf("kind = %v, want server", kind)
	}
}
