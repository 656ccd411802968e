package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the earshot tracer.
const tracerName = "github.com/MrWong99/earshot"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// DeviceKey is the span attribute naming the wearable a span belongs to.
const DeviceKey = attribute.Key("earshot.device")

type deviceCtxKey struct{}

// WithDevice returns a copy of ctx tagged with deviceID. Spans started and
// loggers derived from it carry the device.
func WithDevice(ctx context.Context, deviceID string) context.Context {
	if deviceID == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceCtxKey{}, deviceID)
}

// DeviceID returns the device ctx was tagged with, or "".
func DeviceID(ctx context.Context) string {
	id, _ := ctx.Value(deviceCtxKey{}).(string)
	return id
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := DeviceID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(DeviceKey.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the device and the
// trace_id and span_id of the active span, whichever ctx carries.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := DeviceID(ctx); id != "" {
		l = l.With(slog.String("device", id))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
