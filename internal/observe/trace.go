package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every phonebridge span.
const tracerName = "github.com/MrWong99/phonebridge"

// callIDKey is the attribute and log key carrying the carrier call id.
const callIDKey = "call_id"

type callCtxKey struct{}

// Tracer returns the phonebridge tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// WithCall scopes ctx to one phone call. Spans started from the returned
// context carry the call id attribute and [Logger] adds it to every line.
func WithCall(ctx context.Context, callID string) context.Context {
	if callID == "" {
		return ctx
	}
	return context.WithValue(ctx, callCtxKey{}, callID)
}

// CallID returns the call id set by [WithCall], or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callCtxKey{}).(string)
	return id
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := CallID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String(callIDKey, id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the trace id of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with the call id and trace ids found in
// ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	var attrs []any
	if id := CallID(ctx); id != "" {
		attrs = append(attrs, slog.String(callIDKey, id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
