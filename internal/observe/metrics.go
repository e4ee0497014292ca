// Package observe provides OpenTelemetry metric instruments for the engine.
//
// Metrics are recorded through the OTel Metrics API. A Prometheus exporter
// bridge is available via [InitProvider] so metrics can be scraped from the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all engine metrics.
const meterName = "github.com/jmichaelis/parley"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// AnalysisDuration tracks per-utterance metric computation latency.
	AnalysisDuration metric.Float64Histogram

	// LinkReconnects counts reconnection attempts by outcome. Use with
	// attribute.String("status", "success"|"failure"|"exhausted").
	LinkReconnects metric.Int64Counter

	// FramesEncoded counts transport envelopes produced by the capture
	// encoder.
	FramesEncoded metric.Int64Counter

	// FramesDropped counts capture blocks discarded for non-finite samples.
	FramesDropped metric.Int64Counter

	// ResponderRequests counts remote generation calls by outcome. Use with
	// attribute.String("status", "success"|"failure"|"terminal").
	ResponderRequests metric.Int64Counter

	// ActiveLinks tracks the number of live agent sessions.
	ActiveLinks metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// in-process analysis work.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AnalysisDuration, err = m.Float64Histogram("parley.telemetry.analysis.duration",
		metric.WithDescription("Latency of per-utterance metric computation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LinkReconnects, err = m.Int64Counter("parley.link.reconnects",
		metric.WithDescription("Total link reconnection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.FramesEncoded, err = m.Int64Counter("parley.audio.frames_encoded",
		metric.WithDescription("Total transport envelopes produced by the capture encoder."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("parley.audio.frames_dropped",
		metric.WithDescription("Total capture blocks discarded for non-finite samples."),
	); err != nil {
		return nil, err
	}
	if met.ResponderRequests, err = m.Int64Counter("parley.responder.requests",
		metric.WithDescription("Total remote generation requests by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveLinks, err = m.Int64UpDownCounter("parley.link.active_sessions",
		metric.WithDescription("Number of live agent sessions."),
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

// RecordReconnect records one reconnection attempt with its outcome.
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.LinkReconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordResponderRequest records one remote generation call with its outcome.
func (m *Metrics) RecordResponderRequest(ctx context.Context, status string) {
	m.ResponderRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
