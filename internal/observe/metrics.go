// Package observe provides application-wide observability primitives for
// podgraph: OpenTelemetry metrics, distributed tracing, and structured
// logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider]; it registers the
// instruments with the Prometheus client's default registry and does not
// itself serve an HTTP /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all podgraph metrics.
const meterName = "github.com/MrWong99/podgraph"

// Metrics holds all OpenTelemetry metric instruments used across the
// episode pipeline. All fields are safe for concurrent use — the underlying
// OTel types handle their own synchronisation.
type Metrics struct {
	// PhaseDuration tracks wall-clock time spent in each orchestrator phase.
	// Use with attribute.String("phase", ...).
	PhaseDuration metric.Float64Histogram

	// LLMRequestDuration tracks latency of individual LLM calls. Recorded by
	// [Metrics.RecordLLMRequest] with the same key_id and status attributes
	// as LLMRequests.
	LLMRequestDuration metric.Float64Histogram

	// LLMRequests counts LLM calls by key and outcome. Use with attributes:
	//   attribute.String("key_id", ...), attribute.String("status", ...)
	LLMRequests metric.Int64Counter

	// LLMErrors counts LLM call failures by error kind (transient, quota,
	// circuit_open, permanent).
	LLMErrors metric.Int64Counter

	// ExtractionUnitFailures counts meaningful units whose extraction call
	// failed after retries, recorded by internal/orchestrator from the
	// extraction phase's per-unit failures.
	ExtractionUnitFailures metric.Int64Counter

	// EpisodesProcessed counts completed runs of the orchestrator by final
	// status (the model.PipelineStatus values "completed", "failed",
	// "skipped").
	EpisodesProcessed metric.Int64Counter

	// CheckpointWrites counts checkpoint saves by phase.
	CheckpointWrites metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning
// a single LLM call up to a full-episode phase.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PhaseDuration, err = m.Float64Histogram("podgraph.phase.duration",
		metric.WithDescription("Wall-clock duration of each pipeline phase."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMRequestDuration, err = m.Float64Histogram("podgraph.llm.request.duration",
		metric.WithDescription("Latency of individual LLM calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMRequests, err = m.Int64Counter("podgraph.llm.requests",
		metric.WithDescription("Total LLM calls by key and outcome."),
	); err != nil {
		return nil, err
	}
	if met.LLMErrors, err = m.Int64Counter("podgraph.llm.errors",
		metric.WithDescription("Total LLM call failures by error kind."),
	); err != nil {
		return nil, err
	}
	if met.ExtractionUnitFailures, err = m.Int64Counter("podgraph.extraction.unit_failures",
		metric.WithDescription("Meaningful units whose knowledge extraction failed after retries."),
	); err != nil {
		return nil, err
	}
	if met.EpisodesProcessed, err = m.Int64Counter("podgraph.episodes.processed",
		metric.WithDescription("Completed episode runs by final status."),
	); err != nil {
		return nil, err
	}
	if met.CheckpointWrites, err = m.Int64Counter("podgraph.checkpoint.writes",
		metric.WithDescription("Checkpoint saves by phase."),
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

// RecordPhase records a phase's duration in seconds.
func (m *Metrics) RecordPhase(ctx context.Context, phase string, seconds float64) {
	m.PhaseDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordLLMRequest records one LLM call's latency and outcome.
func (m *Metrics) RecordLLMRequest(ctx context.Context, keyID, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("key_id", keyID),
		attribute.String("status", status),
	)
	m.LLMRequests.Add(ctx, 1, attrs)
	m.LLMRequestDuration.Record(ctx, seconds, attrs)
}

// RecordLLMError records an LLM call failure by kind (transient, quota,
// circuit_open, permanent).
func (m *Metrics) RecordLLMError(ctx context.Context, kind string) {
	m.LLMErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordExtractionFailure records one meaningful unit whose extraction
// ultimately failed.
func (m *Metrics) RecordExtractionFailure(ctx context.Context, reason string) {
	m.ExtractionUnitFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordEpisodeProcessed records the terminal status of one orchestrator run.
func (m *Metrics) RecordEpisodeProcessed(ctx context.Context, status string) {
	m.EpisodesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCheckpointWrite records a checkpoint save for the given phase.
func (m *Metrics) RecordCheckpointWrite(ctx context.Context, phase string) {
	m.CheckpointWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}
