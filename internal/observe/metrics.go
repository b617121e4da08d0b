// Package observe provides application-wide observability primitives for
// DreamPulse: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all DreamPulse metrics.
const meterName = "github.com/dreampulse/dreampulse"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks one-shot transcription latency, covering
	// both the HTTP endpoint and the fallback path for push-to-talk turns.
	TranscriptionDuration metric.Float64Histogram

	// InterpretationDuration tracks dream interpretation latency.
	InterpretationDuration metric.Float64Histogram

	// VideoDuration tracks dream video generation latency, submission
	// through final poll.
	VideoDuration metric.Float64Histogram

	// --- Counters ---

	// RelayMessages counts frames forwarded through the relay bridge.
	// Use with attribute: attribute.String("direction", "upstream"|"downstream")
	RelayMessages metric.Int64Counter

	// RelayBytes counts payload bytes forwarded through the relay bridge,
	// with the same direction attribute as RelayMessages.
	RelayBytes metric.Int64Counter

	// TurnCommits counts committed speech turns. Use with attribute:
	//   attribute.String("policy", "auto"|"manual")
	TurnCommits metric.Int64Counter

	// DreamSubmissions counts dream pipeline runs. Use with attribute:
	//   attribute.String("status", ...)
	DreamSubmissions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveBridges tracks the number of live relay bridges.
	ActiveBridges metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request-scale latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// pipelineBuckets covers the much longer dream-pipeline stages; video
// generation routinely takes minutes.
var pipelineBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("dreampulse.transcription.duration",
		metric.WithDescription("Latency of one-shot speech transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InterpretationDuration, err = m.Float64Histogram("dreampulse.interpretation.duration",
		metric.WithDescription("Latency of dream interpretation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VideoDuration, err = m.Float64Histogram("dreampulse.video.duration",
		metric.WithDescription("Latency of dream video generation, submission through final poll."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(pipelineBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RelayMessages, err = m.Int64Counter("dreampulse.relay.messages",
		metric.WithDescription("Total frames forwarded through the relay bridge by direction."),
	); err != nil {
		return nil, err
	}
	if met.RelayBytes, err = m.Int64Counter("dreampulse.relay.bytes",
		metric.WithDescription("Total payload bytes forwarded through the relay bridge by direction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TurnCommits, err = m.Int64Counter("dreampulse.turn.commits",
		metric.WithDescription("Total committed speech turns by segmentation policy."),
	); err != nil {
		return nil, err
	}
	if met.DreamSubmissions, err = m.Int64Counter("dreampulse.dream.submissions",
		metric.WithDescription("Total dream pipeline runs by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("dreampulse.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveBridges, err = m.Int64UpDownCounter("dreampulse.active_bridges",
		metric.WithDescription("Number of live relay bridges."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dreampulse.http.request.duration",
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

// RecordRelayMessage records one forwarded relay frame and its payload size.
func (m *Metrics) RecordRelayMessage(ctx context.Context, direction string, bytes int64) {
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.RelayMessages.Add(ctx, 1, attrs)
	m.RelayBytes.Add(ctx, bytes, attrs)
}

// RecordTurnCommit records one committed speech turn.
func (m *Metrics) RecordTurnCommit(ctx context.Context, policy string) {
	m.TurnCommits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("policy", policy)),
	)
}

// RecordDreamSubmission records one dream pipeline run.
func (m *Metrics) RecordDreamSubmission(ctx context.Context, status string) {
	m.DreamSubmissions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
