// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// via /metrics. A package-level default [Metrics] instance ([DefaultMetrics])
// is provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- VAD ---

	// VADInferenceDuration tracks scorer latency per analysis frame.
	VADInferenceDuration metric.Float64Histogram

	// VADInferenceErrors counts failed or guarded scorer calls. Use with:
	//   attribute.String("reason", ...)
	VADInferenceErrors metric.Int64Counter

	// VADStaleResults counts scores discarded because the engine was reset
	// while inference was in flight.
	VADStaleResults metric.Int64Counter

	// --- Speech sessions ---

	// SessionOutcomes counts finished listening sessions. Use with:
	//   attribute.String("outcome", ...)
	SessionOutcomes metric.Int64Counter

	// SessionDuration tracks how long listening sessions last.
	SessionDuration metric.Float64Histogram

	// Submissions counts utterances handed to the transport. Use with:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	Submissions metric.Int64Counter

	// ActiveSessions is 1 while a listening session is running.
	ActiveSessions metric.Int64UpDownCounter

	// --- Speak queue ---

	// SpeakTasks counts speak tasks by final status. Use with:
	//   attribute.String("status", ...)
	SpeakTasks metric.Int64Counter

	// PlaybackDuration tracks wall-clock time spent rendering one task.
	PlaybackDuration metric.Float64Histogram

	// QueueDepth tracks tasks waiting in the speak queue.
	QueueDepth metric.Int64UpDownCounter

	// Interrupts counts playback interruptions. Use with:
	//   attribute.String("reason", ...)
	Interrupts metric.Int64Counter

	// --- Transport ---

	// TransportReconnects counts duplex connection re-dials.
	TransportReconnects metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame inference up to multi-second playback.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.VADInferenceDuration, err = m.Float64Histogram("earshot.vad.inference.duration",
		metric.WithDescription("Latency of one VAD scorer call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("earshot.session.duration",
		metric.WithDescription("Duration of listening sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("earshot.speak.playback.duration",
		metric.WithDescription("Time spent rendering one speak task."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.VADInferenceErrors, err = m.Int64Counter("earshot.vad.inference.errors",
		metric.WithDescription("Failed VAD scorer calls by reason."),
	); err != nil {
		return nil, err
	}
	if met.VADStaleResults, err = m.Int64Counter("earshot.vad.stale_results",
		metric.WithDescription("VAD scores discarded after a reset."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("earshot.session.outcomes",
		metric.WithDescription("Finished listening sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Submissions, err = m.Int64Counter("earshot.submissions",
		metric.WithDescription("Utterance submissions by content mode and status."),
	); err != nil {
		return nil, err
	}
	if met.SpeakTasks, err = m.Int64Counter("earshot.speak.tasks",
		metric.WithDescription("Speak tasks by final status."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("earshot.interrupts",
		metric.WithDescription("Playback interruptions by reason."),
	); err != nil {
		return nil, err
	}
	if met.TransportReconnects, err = m.Int64Counter("earshot.transport.reconnects",
		metric.WithDescription("Duplex transport reconnect attempts."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("earshot.active_sessions",
		metric.WithDescription("Number of running listening sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("earshot.speak.queue_depth",
		metric.WithDescription("Speak tasks waiting for playback."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordInference records one scorer call. A non-empty reason marks it failed.
func (m *Metrics) RecordInference(ctx context.Context, d time.Duration, reason string) {
	m.VADInferenceDuration.Record(ctx, d.Seconds())
	if reason != "" {
		m.VADInferenceErrors.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
	}
}

// RecordSessionEnd records a finished listening session.
func (m *Metrics) RecordSessionEnd(ctx context.Context, outcome string, d time.Duration) {
	m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	m.SessionDuration.Record(ctx, d.Seconds())
}

// RecordSubmission records one submission attempt.
func (m *Metrics) RecordSubmission(ctx context.Context, mode, status string) {
	m.Submissions.Add(ctx, 1,
		metric.WithAttributes(
			Attr("mode", mode),
			Attr("status", status),
		),
	)
}

// RecordSpeakTask records a speak task reaching its final status.
func (m *Metrics) RecordSpeakTask(ctx context.Context, status string, d time.Duration) {
	m.SpeakTasks.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
	if d > 0 {
		m.PlaybackDuration.Record(ctx, d.Seconds())
	}
}

// RecordInterrupt records a playback interruption.
func (m *Metrics) RecordInterrupt(ctx context.Context, reason string) {
	m.Interrupts.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}
