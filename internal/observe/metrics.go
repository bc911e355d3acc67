// Package observe provides observability primitives for the ITSLanguage
// client: OpenTelemetry metrics, distributed tracing, trace-aware structured
// logging, and an HTTP transport that ties them together for outbound REST
// calls.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/itslanguage/itslanguage-go"

// Session outcomes used as the "outcome" attribute.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
)

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SessionDuration tracks the wall time of a streaming session from the
	// init call to its terminal outcome. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("outcome", ...)
	SessionDuration metric.Float64Histogram

	// RPCDuration tracks the round-trip time of RPC calls. Use with attribute:
	//   attribute.String("procedure", ...)
	RPCDuration metric.Float64Histogram

	// HTTPRequestDuration tracks outbound REST request latency. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// RPCCalls counts RPC calls. Use with attributes:
	//   attribute.String("procedure", ...), attribute.String("status", ...)
	RPCCalls metric.Int64Counter

	// SessionOutcomes counts terminal session outcomes. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("outcome", ...)
	SessionOutcomes metric.Int64Counter

	// AudioChunks counts audio chunks written to the backend. Use with
	// attribute:
	//   attribute.String("kind", ...)
	AudioChunks metric.Int64Counter

	// AudioBytes counts raw (pre-base64) audio bytes written to the backend.
	// Use with attribute:
	//   attribute.String("kind", ...)
	AudioBytes metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of in-flight streaming sessions. Use
	// with attribute:
	//   attribute.String("kind", ...)
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for RPC
// and REST round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers sessions lasting from a few seconds of speech up to
// a long recording.
var sessionBuckets = []float64{
	1, 2.5, 5, 10, 20, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("itslanguage.session.duration",
		metric.WithDescription("Duration of streaming sessions by kind and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RPCDuration, err = m.Float64Histogram("itslanguage.rpc.duration",
		metric.WithDescription("Round-trip latency of RPC calls by procedure."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("itslanguage.http.request.duration",
		metric.WithDescription("Outbound REST request latency by method, path, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RPCCalls, err = m.Int64Counter("itslanguage.rpc.calls",
		metric.WithDescription("Total RPC calls by procedure and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("itslanguage.session.outcomes",
		metric.WithDescription("Total streaming sessions by kind and terminal outcome."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("itslanguage.audio.chunks",
		metric.WithDescription("Total audio chunks written by session kind."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("itslanguage.audio.bytes",
		metric.WithDescription("Total raw audio bytes written by session kind."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("itslanguage.active_sessions",
		metric.WithDescription("Number of in-flight streaming sessions by kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordRPC records one RPC call: the counter increment and its latency.
func (m *Metrics) RecordRPC(ctx context.Context, procedure, status string, d time.Duration) {
	m.RPCCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("procedure", procedure),
			attribute.String("status", status),
		),
	)
	m.RPCDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("procedure", procedure)),
	)
}

// SessionStarted increments the active-session gauge for kind.
func (m *Metrics) SessionStarted(ctx context.Context, kind string) {
	m.ActiveSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SessionEnded decrements the active-session gauge and records the outcome
// and duration of a session that was started with [Metrics.SessionStarted].
func (m *Metrics) SessionEnded(ctx context.Context, kind, outcome string, d time.Duration) {
	m.ActiveSessions.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
	m.RecordSessionOutcome(ctx, kind, outcome)
	m.SessionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordSessionOutcome is a convenience method that records a session
// outcome counter increment with the standard attribute set.
func (m *Metrics) RecordSessionOutcome(ctx context.Context, kind, outcome string) {
	m.SessionOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordAudioChunk records one written audio chunk of n raw bytes.
func (m *Metrics) RecordAudioChunk(ctx context.Context, kind string, n int) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.AudioChunks.Add(ctx, 1, attrs)
	m.AudioBytes.Add(ctx, int64(n), attrs)
}
