// Package telemetry defines the logging, metrics and tracing seams used by
// the agent runtime and the nutrition tool layer. Production wiring delegates
// to goa.design/clue and OpenTelemetry; tests use the no-op implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log messages with key-value pairs.
	Logger interface {
		// Debug emits a debug-level message.
		Debug(ctx context.Context, msg string, keyvals ...any)
		// Info emits an info-level message.
		Info(ctx context.Context, msg string, keyvals ...any)
		// Warn emits a warning-level message.
		Warn(ctx context.Context, msg string, keyvals ...any)
		// Error emits an error-level message.
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers and gauges.
	Metrics interface {
		// IncCounter increments a counter metric by the given value.
		IncCounter(name string, value float64, tags ...string)
		// RecordTimer records a duration histogram/timer metric.
		RecordTimer(name string, duration time.Duration, tags ...string)
		// RecordGauge records a gauge metric value.
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer creates and retrieves spans.
	Tracer interface {
		// Start creates a new span with the given name, returning a derived
		// context and the span handle.
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		// Span retrieves the current span from the context.
		Span(ctx context.Context) Span
	}

	// Span is the subset of span operations the runtime records.
	Span interface {
		// End finalizes the span.
		End(opts ...trace.SpanEndOption)
		// AddEvent records a span event with key-value attributes.
		AddEvent(name string, attrs ...any)
		// SetAttributes sets span attributes from key-value pairs.
		SetAttributes(attrs ...any)
		// SetStatus sets the span status code and description.
		SetStatus(code codes.Code, description string)
		// RecordError records an error on the span.
		RecordError(err error, opts ...trace.EventOption)
	}
)
