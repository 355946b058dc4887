package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the voxslice tracer.
const tracerName = "github.com/MrWong99/voxslice"

// Span names.
const (
	SpanStreamSession  = "stream.session"
	SpanExtractSegment = "extract.segment"
)

// Span attribute keys.
const (
	AttrStreamID    = attribute.Key("stream.id")
	AttrStartMs     = attribute.Key("extract.start_ms")
	AttrEndMs       = attribute.Key("extract.end_ms")
	AttrSlotStartMs = attribute.Key("extract.slot_start_ms")
	AttrCodec       = attribute.Key("extract.codec")
	AttrReason      = attribute.Key("extract.error_reason")
)

type streamIDKey struct{}

// WithStreamID returns a context carrying the stream ID. Spans started with
// [StartSpan] and loggers from [Logger] pick it up.
func WithStreamID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, streamIDKey{}, id)
}

// StreamID returns the stream ID stored by [WithStreamID], or "".
func StreamID(ctx context.Context) string {
	id, _ := ctx.Value(streamIDKey{}).(string)
	return id
}

// Tracer returns the voxslice tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx carries a stream ID the span
// is tagged with [AttrStreamID]. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := StreamID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(AttrStreamID.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// FailSpan records err on span, tags the failure reason, and marks the span
// as errored.
func FailSpan(span trace.Span, reason string, err error) {
	span.RecordError(err)
	span.SetAttributes(AttrReason.String(reason))
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// Stream sessions send it to clients with error messages.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with stream_id, trace_id and span_id
// added when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := StreamID(ctx); id != "" {
		l = l.With(slog.String("stream_id", id))
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
