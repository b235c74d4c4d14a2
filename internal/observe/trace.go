package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the voxbridge tracer.
const tracerName = "github.com/MrWong99/voxbridge"

// Tracer returns the package-level [trace.Tracer] for voxbridge. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
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

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
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

// Span attribute keys shared by turn and stage spans.
const (
	AttrTurn     = attribute.Key("voxbridge.turn")
	AttrStage    = attribute.Key("voxbridge.stage")
	AttrProvider = attribute.Key("voxbridge.provider")
)

// Turn stages, in the order a turn runs them.
const (
	StageSTT     = "stt"
	StageGateway = "gateway"
	StageTTS     = "tts"
)

// StartTurn starts the root span of one conversational turn, numbered from
// one. Stage spans are started beneath it with [StartStage].
func StartTurn(ctx context.Context, turn uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, "voxbridge.turn", trace.WithAttributes(AttrTurn.Int64(int64(turn))))
}

// StartStage starts the span of one provider call within a turn.
func StartStage(ctx context.Context, stage, provider string) (context.Context, trace.Span) {
	return StartSpan(ctx, "voxbridge."+stage, trace.WithAttributes(
		AttrStage.String(stage),
		AttrProvider.String(provider),
	))
}

// EndSpan ends span and marks it failed when err is set. A cancelled turn
// is not a failure: barge-in cancels turns routinely.
func EndSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
