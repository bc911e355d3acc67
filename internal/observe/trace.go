package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the client tracer.
const tracerName = "github.com/itslanguage/itslanguage-go"

// Span attribute keys of streaming sessions.
const (
	AttrKind        = attribute.Key("itslanguage.kind")
	AttrChallengeID = attribute.Key("itslanguage.challenge_id")
	AttrAttemptID   = attribute.Key("itslanguage.attempt_id")
)

// Tracer returns the package-level [trace.Tracer]. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSession starts the span covering one streaming session, named
// "streaming.<kind>".
func StartSession(ctx context.Context, kind, challengeID, attemptID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "streaming."+kind,
		trace.WithAttributes(
			AttrKind.String(kind),
			AttrChallengeID.String(challengeID),
			AttrAttemptID.String(attemptID),
		),
	)
}

// EndSpan marks span as failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// WithTrace returns l enriched with trace_id and span_id from the OTel span
// context in ctx, or l itself when ctx carries no span.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
