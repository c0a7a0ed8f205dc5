// Package observe provides application-wide observability primitives for
// Voicelark: OpenTelemetry metrics, distributed tracing, structured logging
// helpers, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Voicelark metrics.
const meterName = "github.com/voicelark/voicelark"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// GenerationDuration tracks full reply generation latency, from
	// coordinator start to model stream end.
	GenerationDuration metric.Float64Histogram

	// SynthesisDuration tracks per-chunk speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// FirstChunkLatency tracks time from generation start to the first
	// speakable chunk, the user-perceived response delay.
	FirstChunkLatency metric.Float64Histogram

	// --- Counters ---

	// Utterances counts completed utterances entering the gatekeeper.
	Utterances metric.Int64Counter

	// GateDecisions counts gatekeeper verdicts. Use with attributes:
	//   attribute.String("rule", ...), attribute.Bool("respond", ...)
	GateDecisions metric.Int64Counter

	// ChunksFiltered counts perception-filter rejections by reason.
	ChunksFiltered metric.Int64Counter

	// ChunksSpoken counts chunks that reached playback.
	ChunksSpoken metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveParticipants tracks the number of connected participants across
	// all sessions.
	ActiveParticipants metric.Int64UpDownCounter

	// PlaybackQueueDepth tracks buffers waiting in playback queues.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GenerationDuration, err = m.Float64Histogram("voicelark.generation.duration",
		metric.WithDescription("Latency of one full reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("voicelark.synthesis.duration",
		metric.WithDescription("Latency of per-chunk speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstChunkLatency, err = m.Float64Histogram("voicelark.first_chunk.latency",
		metric.WithDescription("Time from generation start to the first speakable chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("voicelark.utterances",
		metric.WithDescription("Completed utterances entering the gatekeeper."),
	); err != nil {
		return nil, err
	}
	if met.GateDecisions, err = m.Int64Counter("voicelark.gate.decisions",
		metric.WithDescription("Gatekeeper verdicts by rule and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ChunksFiltered, err = m.Int64Counter("voicelark.chunks.filtered",
		metric.WithDescription("Perception-filter rejections by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSpoken, err = m.Int64Counter("voicelark.chunks.spoken",
		metric.WithDescription("Chunks that reached audible playback."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voicelark.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicelark.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("voicelark.active_participants",
		metric.WithDescription("Number of connected participants across all sessions."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("voicelark.playback.queue_depth",
		metric.WithDescription("Audio buffers waiting in playback queues."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicelark.http.request.duration",
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

// RecordGateDecision records one gatekeeper verdict.
func (m *Metrics) RecordGateDecision(ctx context.Context, rule string, respond bool) {
	m.GateDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("rule", rule),
			attribute.Bool("respond", respond),
		),
	)
}

// RecordChunkFiltered records one perception-filter rejection.
func (m *Metrics) RecordChunkFiltered(ctx context.Context, reason string) {
	m.ChunksFiltered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordProviderError records one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
