// Package observe provides application-wide observability primitives for the
// voice tutor: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all tutor metrics.
const meterName = "github.com/gamerzmahi07-prog/Language-Learn"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// ConnectDuration tracks how long the realtime transport takes to dial
	// and complete setup.
	ConnectDuration metric.Float64Histogram

	// PlaybackLead tracks how far ahead of the output clock audio is
	// scheduled, i.e. how much buffered speech is pending when a new chunk
	// arrives.
	PlaybackLead metric.Float64Histogram

	// --- Counters ---

	// ChunksSent counts microphone audio frames sent over the transport.
	ChunksSent metric.Int64Counter

	// ChunksReceived counts model audio chunks received and scheduled.
	ChunksReceived metric.Int64Counter

	// DroppedFrames counts capture frames dropped because the transport
	// could not accept them.
	DroppedFrames metric.Int64Counter

	// MalformedChunks counts received audio chunks that failed to decode
	// and were discarded.
	MalformedChunks metric.Int64Counter

	// Interruptions counts barge-in events, where the student spoke over the
	// tutor and playback was flushed.
	Interruptions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live tutoring sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection setup and playback-lead measurements.
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
	if met.ConnectDuration, err = m.Float64Histogram("voicetutor.transport.connect.duration",
		metric.WithDescription("Time to dial the realtime transport and complete setup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackLead, err = m.Float64Histogram("voicetutor.playback.lead",
		metric.WithDescription("Scheduled playback lead over the output clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksSent, err = m.Int64Counter("voicetutor.capture.chunks_sent",
		metric.WithDescription("Total microphone audio frames sent over the transport."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("voicetutor.playback.chunks_received",
		metric.WithDescription("Total model audio chunks received and scheduled."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("voicetutor.capture.dropped_frames",
		metric.WithDescription("Total capture frames dropped on transport backpressure."),
	); err != nil {
		return nil, err
	}
	if met.MalformedChunks, err = m.Int64Counter("voicetutor.playback.malformed_chunks",
		metric.WithDescription("Total received audio chunks discarded as malformed."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voicetutor.session.interruptions",
		metric.WithDescription("Total barge-in events that flushed playback."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicetutor.active_sessions",
		metric.WithDescription("Number of live tutoring sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicetutor.http.request.duration",
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

// RecordConnect records a transport connection attempt with its duration and
// outcome status ("ok" or "error").
func (m *Metrics) RecordConnect(ctx context.Context, seconds float64, status string) {
	m.ConnectDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
