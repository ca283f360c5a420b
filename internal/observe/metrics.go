// Package observe provides application-wide observability primitives for
// Polyglot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Polyglot metrics.
const meterName = "github.com/polyglotlabs/polyglot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SessionDuration tracks total practice-session length from connect to
	// teardown.
	SessionDuration metric.Float64Histogram

	// CoachDuration tracks coach LLM call latency. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	CoachDuration metric.Float64Histogram

	// --- Counters ---

	// AudioFramesSent counts microphone frames forwarded upstream.
	AudioFramesSent metric.Int64Counter

	// AudioFramesDropped counts audio frames dropped on a full outbound
	// queue. Use with attribute: attribute.String("path", ...) where path
	// is "capture" (microphone frames to the model) or "client" (playback
	// chunks to the browser).
	AudioFramesDropped metric.Int64Counter

	// AudioChunksReceived counts model audio chunks scheduled for playback.
	AudioChunksReceived metric.Int64Counter

	// PlaybackStops counts barge-in and teardown playback flushes.
	PlaybackStops metric.Int64Counter

	// TurnsCommitted counts completed conversation turns.
	TurnsCommitted metric.Int64Counter

	// --- Error counters ---

	// SessionErrors counts sessions that ended in an error state. Use with
	// attribute: attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// CoachErrors counts failed coach LLM calls. Use with attribute:
	//   attribute.String("op", ...)
	CoachErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for coach
// LLM calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// practice sessions, which run minutes rather than milliseconds.
var sessionBuckets = []float64{
	10, 30, 60, 120, 300, 600, 900, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("polyglot.session.duration",
		metric.WithDescription("Practice session length from connect to teardown."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CoachDuration, err = m.Float64Histogram("polyglot.coach.duration",
		metric.WithDescription("Latency of coach LLM calls by operation and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioFramesSent, err = m.Int64Counter("polyglot.audio.frames_sent",
		metric.WithDescription("Microphone frames forwarded upstream."),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesDropped, err = m.Int64Counter("polyglot.audio.frames_dropped",
		metric.WithDescription("Audio frames dropped due to a full outbound queue, by path."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksReceived, err = m.Int64Counter("polyglot.audio.chunks_received",
		metric.WithDescription("Model audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStops, err = m.Int64Counter("polyglot.playback.stops",
		metric.WithDescription("Playback flushes from barge-in or teardown."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCommitted, err = m.Int64Counter("polyglot.turns.committed",
		metric.WithDescription("Completed conversation turns."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionErrors, err = m.Int64Counter("polyglot.session.errors",
		metric.WithDescription("Sessions that ended in an error state by kind."),
	); err != nil {
		return nil, err
	}
	if met.CoachErrors, err = m.Int64Counter("polyglot.coach.errors",
		metric.WithDescription("Failed coach LLM calls by operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("polyglot.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("polyglot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCoachCall records a coach LLM call with its latency and outcome.
// Failed calls also increment [Metrics.CoachErrors].
func (m *Metrics) RecordCoachCall(ctx context.Context, op string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.CoachErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("op", op)),
		)
	}
	m.CoachDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordSessionError records a session ending in an error state.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
