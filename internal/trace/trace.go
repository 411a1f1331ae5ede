// Package trace wires a process-wide OpenTelemetry tracer with a
// pretty-printed stdout exporter. Spans correlate log lines across the
// trading cycle; when tracing is off every call degrades to a no-op.
package trace

import (
	"context"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "ai-paper-trader"

// state holds everything Init sets up, so Shutdown and the span helpers
// never touch half-initialized globals.
type state struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	on       bool
}

var active state

// Init reads LOG_TRACING_ENABLED (default on) and, when enabled,
// installs a batching stdout exporter as the global tracer provider.
func Init() error {
	active = state{on: envBool("LOG_TRACING_ENABLED", true)}
	if !active.on {
		return nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		))
	if err != nil {
		return err
	}

	active.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(active.provider)
	active.tracer = otel.Tracer(serviceName)
	return nil
}

// Shutdown flushes any pending spans. Safe to call when Init was never
// run or tracing is disabled.
func Shutdown(ctx context.Context) error {
	if active.provider == nil {
		return nil
	}
	return active.provider.Shutdown(ctx)
}

// StartSpan opens a child span under ctx. With tracing disabled the
// surrounding span (or a noop one) is returned unchanged.
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !active.on || active.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return active.tracer.Start(ctx, spanName, opts...)
}

func Enabled() bool {
	return active.on
}

// GetTraceFields returns the current trace and span ids for embedding
// in log lines; ok is false outside any recorded span.
func GetTraceFields(ctx context.Context) (traceID, spanID string, ok bool) {
	if !active.on {
		return "", "", false
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", "", false
	}
	return sc.TraceID().String(), sc.SpanID().String(), true
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
