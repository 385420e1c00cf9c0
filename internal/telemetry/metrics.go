package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all memory engine
// metrics.
const meterName = "github.com/mnemex/mnemex"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per tier/stage ---

	// STMDuration tracks short-term memory read/write latency.
	STMDuration metric.Float64Histogram

	// MTMDuration tracks mid-term memory read/write latency, including
	// summarization.
	MTMDuration metric.Float64Histogram

	// LTMDuration tracks hybrid long-term memory query latency (vector +
	// graph combined).
	LTMDuration metric.Float64Histogram

	// CompressorDuration tracks how long context compression takes to select
	// and fit retrieved memories into the token budget.
	CompressorDuration metric.Float64Histogram

	// OrchestratorDuration tracks end-to-end orchestrator retrieval latency
	// across all tiers.
	OrchestratorDuration metric.Float64Histogram

	// --- Counters ---

	// TierQueries counts per-tier query invocations. Use with attributes:
	//   attribute.String("tier", "stm"|"mtm"|"ltm"), attribute.String("status", ...)
	TierQueries metric.Int64Counter

	// ChunksSummarized counts turns consolidated into chunks during MTM
	// promotion.
	ChunksSummarized metric.Int64Counter

	// EntitiesExtracted counts entities/relationships written to the graph
	// store during LTM ingestion.
	EntitiesExtracted metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts storage backend errors. Use with attributes:
	//   attribute.String("backend", "vectorstore"|"graphstore"), attribute.String("op", ...)
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions with live STM state.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both in-process tier lookups and network-bound backend queries.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STMDuration, err = m.Float64Histogram("mnemex.stm.duration",
		metric.WithDescription("Latency of short-term memory operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MTMDuration, err = m.Float64Histogram("mnemex.mtm.duration",
		metric.WithDescription("Latency of mid-term memory operations, including summarization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LTMDuration, err = m.Float64Histogram("mnemex.ltm.duration",
		metric.WithDescription("Latency of hybrid long-term memory queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompressorDuration, err = m.Float64Histogram("mnemex.compressor.duration",
		metric.WithDescription("Latency of context compression."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OrchestratorDuration, err = m.Float64Histogram("mnemex.orchestrator.duration",
		metric.WithDescription("End-to-end orchestrator retrieval latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TierQueries, err = m.Int64Counter("mnemex.tier.queries",
		metric.WithDescription("Total per-tier query invocations by tier and status."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSummarized, err = m.Int64Counter("mnemex.chunks.summarized",
		metric.WithDescription("Total turns consolidated into chunks."),
	); err != nil {
		return nil, err
	}
	if met.EntitiesExtracted, err = m.Int64Counter("mnemex.entities.extracted",
		metric.WithDescription("Total entities/relationships written to the graph store."),
	); err != nil {
		return nil, err
	}

	if met.BackendErrors, err = m.Int64Counter("mnemex.backend.errors",
		metric.WithDescription("Total storage backend errors by backend and operation."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("mnemex.active_sessions",
		metric.WithDescription("Number of sessions with live short-term memory state."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("mnemex.http.request.duration",
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
			panic("telemetry: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTierQuery is a convenience method that records a tier query counter
// increment with the standard attribute set.
func (m *Metrics) RecordTierQuery(ctx context.Context, tier, status string) {
	m.TierQueries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("status", status),
		),
	)
}

// RecordBackendError is a convenience method that records a backend error
// counter increment.
func (m *Metrics) RecordBackendError(ctx context.Context, backend, op string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("op", op),
		),
	)
}
