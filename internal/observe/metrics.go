// Package observe provides application-wide observability primitives for
// voxslice: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxslice metrics.
const meterName = "github.com/MrWong99/voxslice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Segmentation ---

	// Frames counts fixed-size frames fed to segmenters.
	Frames metric.Int64Counter

	// Utterances counts utterances emitted by segmenters.
	Utterances metric.Int64Counter

	// UtteranceDuration tracks the reported duration of emitted utterances.
	UtteranceDuration metric.Float64Histogram

	// SentencesDropped counts sentence messages discarded because the
	// consumer fell behind.
	SentencesDropped metric.Int64Counter

	// --- Extraction ---

	// ExtractDuration tracks end-to-end ExtractSegment latency. Use with
	// attribute:
	//   attribute.String("codec", ...)
	ExtractDuration metric.Float64Histogram

	// Segments counts produced segments. Use with attribute:
	//   attribute.String("codec", ...)
	Segments metric.Int64Counter

	// ExtractErrors counts failed extractions. Use with attribute:
	//   attribute.String("reason", ...)
	ExtractErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of connected audio streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// extraction latency.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// utteranceBuckets covers typical spoken sentence lengths in seconds.
var utteranceBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 21, 34,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Segmentation.
	if met.Frames, err = m.Int64Counter("voxslice.frames",
		metric.WithDescription("Total audio frames processed by segmenters."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxslice.utterances",
		metric.WithDescription("Total utterances emitted by segmenters."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("voxslice.utterance.duration",
		metric.WithDescription("Duration of emitted utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SentencesDropped, err = m.Int64Counter("voxslice.sentences.dropped",
		metric.WithDescription("Sentence messages dropped because the consumer lagged."),
	); err != nil {
		return nil, err
	}

	// Extraction.
	if met.ExtractDuration, err = m.Float64Histogram("voxslice.extract.duration",
		metric.WithDescription("Latency of segment extraction by codec."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("voxslice.segments",
		metric.WithDescription("Total segments produced by codec."),
	); err != nil {
		return nil, err
	}
	if met.ExtractErrors, err = m.Int64Counter("voxslice.extract.errors",
		metric.WithDescription("Total failed extractions by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("voxslice.active_streams",
		metric.WithDescription("Number of connected audio streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxslice.http.request.duration",
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

// RecordUtterance increments the utterance counter and records its duration.
func (m *Metrics) RecordUtterance(ctx context.Context, seconds float64) {
	m.Utterances.Add(ctx, 1)
	m.UtteranceDuration.Record(ctx, seconds)
}

// RecordSegment records a successful extraction for codec.
func (m *Metrics) RecordSegment(ctx context.Context, codec string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("codec", codec))
	m.Segments.Add(ctx, 1, attrs)
	m.ExtractDuration.Record(ctx, seconds, attrs)
}

// RecordExtractError increments the extraction error counter.
func (m *Metrics) RecordExtractError(ctx context.Context, reason string) {
	m.ExtractErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
