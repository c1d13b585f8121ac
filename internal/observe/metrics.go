// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, structured logging helpers, and the
// Prometheus exporter bridge.
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

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// FramesPublished counts frames fanned out by the frame bus.
	FramesPublished metric.Int64Counter

	// FramesDropped counts frames evicted from a consumer queue. Use with
	// attribute: attribute.String("consumer", ...)
	FramesDropped metric.Int64Counter

	// WakeDetections counts accepted wake-phrase triggers.
	WakeDetections metric.Int64Counter

	// Utterances counts sealed utterances. Use with attribute:
	//   attribute.String("reason", ...)
	Utterances metric.Int64Counter

	// ModelErrors counts skipped frames due to detector inference errors.
	// Use with attribute: attribute.String("detector", ...)
	ModelErrors metric.Int64Counter

	// SequenceGaps counts sequence-number gaps annotated on utterances.
	SequenceGaps metric.Int64Counter

	// --- Latency histograms ---

	// UtteranceDuration tracks sealed utterance audio length.
	UtteranceDuration metric.Float64Histogram

	// RecognitionDuration tracks recognizer transcription latency.
	RecognitionDuration metric.Float64Histogram

	// --- Gauges ---

	// RecordingActive is 1 while an utterance is open, 0 otherwise.
	RecordingActive metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for utterance and recognition durations.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesPublished, err = m.Int64Counter("earshot.frames.published",
		metric.WithDescription("Total frames fanned out by the frame bus."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("earshot.frames.dropped",
		metric.WithDescription("Total frames evicted from consumer queues, by consumer."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("earshot.wake.detections",
		metric.WithDescription("Total accepted wake-phrase triggers."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("earshot.utterances",
		metric.WithDescription("Total sealed utterances, by seal reason."),
	); err != nil {
		return nil, err
	}
	if met.ModelErrors, err = m.Int64Counter("earshot.model.errors",
		metric.WithDescription("Total frames skipped due to detector inference errors, by detector."),
	); err != nil {
		return nil, err
	}
	if met.SequenceGaps, err = m.Int64Counter("earshot.sequence.gaps",
		metric.WithDescription("Total sequence-number gaps annotated on utterances."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.UtteranceDuration, err = m.Float64Histogram("earshot.utterance.duration",
		metric.WithDescription("Audio length of sealed utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = m.Float64Histogram("earshot.recognition.duration",
		metric.WithDescription("Latency of utterance transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.RecordingActive, err = m.Int64UpDownCounter("earshot.recording.active",
		metric.WithDescription("1 while an utterance is open, 0 otherwise."),
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

// RecordDroppedFrames records frames evicted from one consumer's queue.
func (m *Metrics) RecordDroppedFrames(ctx context.Context, consumer string, n int64) {
	m.FramesDropped.Add(ctx, n,
		metric.WithAttributes(attribute.String("consumer", consumer)),
	)
}

// RecordModelError records one skipped frame for the named detector.
func (m *Metrics) RecordModelError(ctx context.Context, detector string) {
	m.ModelErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("detector", detector)),
	)
}

// RecordUtterance records one sealed utterance with its seal reason and
// audio length.
func (m *Metrics) RecordUtterance(ctx context.Context, reason string, audioLen time.Duration) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.UtteranceDuration.Record(ctx, audioLen.Seconds())
}

// RecordRecognition records one recognizer call with its outcome.
func (m *Metrics) RecordRecognition(ctx context.Context, recognizer, status string, d time.Duration) {
	m.RecognitionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("recognizer", recognizer),
			attribute.String("status", status),
		),
	)
}
