package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestTelemetryDisabledIsInert(t *testing.T) {
	tel, err := NewTelemetry(TelemetryConfig{})
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}

	tracer := tel.Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	if span.SpanContext().IsValid() {
		t.Error("disabled telemetry produced a recording span")
	}
	span.End()

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestTelemetryNilIsSafe(t *testing.T) {
	var tel *Telemetry

	tracer := tel.Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	span.End()

	if _, err := tel.Meter("test").Int64Counter("ops"); err != nil {
		t.Errorf("nil Meter counter failed: %v", err)
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("nil Shutdown failed: %v", err)
	}
}

func TestTelemetryTracingExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tel, err := NewTelemetry(TelemetryConfig{
		TracingEnabled: true,
		Writer:         &buf,
	})
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}

	tracer := tel.Tracer("test")
	_, span := tracer.Start(context.Background(), "authorize")
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span with tracing enabled")
	}
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if !strings.Contains(buf.String(), "authorize") {
		t.Errorf("exported trace output missing span name, got: %.200s", buf.String())
	}
}

func TestTelemetryMetricsProvider(t *testing.T) {
	var buf bytes.Buffer
	tel, err := NewTelemetry(TelemetryConfig{
		MetricsEnabled: true,
		Writer:         &buf,
		MetricInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}

	counter, err := tel.Meter("test").Int64Counter("decisions")
	if err != nil {
		t.Fatalf("Int64Counter failed: %v", err)
	}
	counter.Add(context.Background(), 3)

	// Shutdown forces a final collect, so the counter shows up even
	// though the export interval never elapsed.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if !strings.Contains(buf.String(), "decisions") {
		t.Errorf("exported metric output missing counter name, got: %.200s", buf.String())
	}
}
