package observability

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	mnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceName identifies this process in exported telemetry.
const ServiceName = "aegis"

// Telemetry owns the OpenTelemetry providers. Zero value is inert: a nil
// or disabled Telemetry hands out no-op tracers so hot-path code never
// branches on whether tracing is on.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// TelemetryConfig selects which providers to start and where exported
// telemetry goes. Traces and metrics are written as JSON to Writer
// (stderr in the CLI; stdout stays reserved for the verdict stream).
type TelemetryConfig struct {
	TracingEnabled bool
	MetricsEnabled bool
	Writer         io.Writer
	// MetricInterval is the periodic-reader export interval. Zero keeps
	// the SDK default (60s).
	MetricInterval time.Duration
}

// NewTelemetry builds the configured providers and registers them as the
// process globals. Both flags false yields an inert Telemetry.
func NewTelemetry(cfg TelemetryConfig) (*Telemetry, error) {
	t := &Telemetry{}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	if cfg.TracingEnabled {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(t.tracerProvider)
	}

	if cfg.MetricsEnabled {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
		if err != nil {
			return nil, fmt.Errorf("metric exporter: %w", err)
		}
		opts := []sdkmetric.PeriodicReaderOption{}
		if cfg.MetricInterval > 0 {
			opts = append(opts, sdkmetric.WithInterval(cfg.MetricInterval))
		}
		t.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, opts...)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(t.meterProvider)
	}

	return t, nil
}

// Tracer returns a tracer for the given instrumentation scope, or a
// no-op tracer when tracing is off.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return t.tracerProvider.Tracer(name)
}

// Meter returns a meter for the given instrumentation scope, or a
// no-op meter when metrics export is off.
func (t *Telemetry) Meter(name string) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return mnoop.NewMeterProvider().Meter(name)
	}
	return t.meterProvider.Meter(name)
}

// Shutdown flushes and stops the providers. Safe on a nil or inert
// Telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var firstErr error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("shutdown tracer provider: %w", err)
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown meter provider: %w", err)
		}
	}
	return firstErr
}
