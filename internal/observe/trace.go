package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for every span
// internal/orchestrator starts around a phase of one episode's pipeline run.
const tracerName = "github.com/MrWong99/podgraph"

// Tracer returns the package-level [trace.Tracer] used to bound each
// orchestrator phase in a span. It uses the globally registered
// [trace.TracerProvider] set up by [InitProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span, typically named after the model.Phase being
// entered, and returns the updated context and span. The caller must call
// span.End() when the phase finishes, regardless of outcome.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx, so
// it can be attached to a checkpoint's metadata or a graph-store rollback
// log line to tie durable side effects back to the run that produced them.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx, so a phase's log lines can be correlated
// with its span without every call site threading the span through
// manually. When no active span is present, the returned logger is the
// default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
