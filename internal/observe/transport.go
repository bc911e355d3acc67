package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// roundTripper instruments outbound HTTP requests.
type roundTripper struct {
	base    http.RoundTripper
	metrics *Metrics
	prop    propagation.TextMapPropagator
}

// Transport returns an [http.RoundTripper] that wraps base (or
// [http.DefaultTransport] when nil) and, for every request:
//
//  1. Starts a client span named "HTTP <method> <path>".
//  2. Injects W3C Trace Context into the outgoing request headers.
//  3. Records the round-trip duration to [Metrics.HTTPRequestDuration].
//  4. Logs completion with status code, duration, and trace info.
//
// A nil m uses [DefaultMetrics].
func Transport(m *Metrics, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if m == nil {
		m = DefaultMetrics()
	}
	return &roundTripper{base: base, metrics: m, prop: propagation.TraceContext{}}
}

// RoundTrip implements [http.RoundTripper].
func (t *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	ctx, span := StartSpan(req.Context(), "HTTP "+req.Method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
			semconv.ServerAddress(req.URL.Hostname()),
		),
	)
	defer span.End()

	// RoundTrippers must not modify the caller's request.
	req = req.Clone(ctx)
	t.prop.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.metrics.HTTPRequestDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("path", req.URL.Path),
			attribute.Int("status", status),
		),
	)

	level := slog.LevelDebug
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		level = slog.LevelWarn
	case status >= http.StatusInternalServerError:
		span.SetStatus(codes.Error, http.StatusText(status))
		level = slog.LevelWarn
	}
	if status != 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	}

	WithTrace(ctx, slog.Default()).LogAttrs(ctx, level, "rest: request completed",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
	)
	return resp, err
}
