package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records cache and resolution metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly; recording is best-effort.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordLookup records a cache lookup and whether it hit.
	RecordLookup(ctx context.Context, cache string, hit bool)

	// RecordStore records a cache store with its duration.
	RecordStore(ctx context.Context, cache string, duration time.Duration)

	// RecordEviction records entries removed by expiry or Clear.
	RecordEviction(ctx context.Context, cache string, count int)

	// RecordResolution records a resolution pass: how many references
	// substituted and how many failed.
	RecordResolution(ctx context.Context, cache string, resolved, failed int)

	// RecordTask records a background task reaching a lifecycle state.
	RecordTask(ctx context.Context, cache string, status string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	lookups          metric.Int64Counter
	hits             metric.Int64Counter
	stores           metric.Int64Counter
	storeDuration    metric.Float64Histogram
	evictions        metric.Int64Counter
	resolutions      metric.Int64Counter
	resolutionErrors metric.Int64Counter
	tasks            metric.Int64Counter
}

// NewMetrics creates a Metrics instance on the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.lookups, err = meter.Int64Counter(
		"cache.lookups",
		metric.WithDescription("Total number of cache lookups"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if m.hits, err = meter.Int64Counter(
		"cache.hits",
		metric.WithDescription("Number of cache lookups that hit"),
		metric.WithUnit("{hit}"),
	); err != nil {
		return nil, err
	}

	if m.stores, err = meter.Int64Counter(
		"cache.stores",
		metric.WithDescription("Total number of cache stores"),
		metric.WithUnit("{store}"),
	); err != nil {
		return nil, err
	}

	if m.storeDuration, err = meter.Float64Histogram(
		"cache.store.duration_ms",
		metric.WithDescription("Cache store duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.evictions, err = meter.Int64Counter(
		"cache.evictions",
		metric.WithDescription("Entries removed by expiry or clearing"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	if m.resolutions, err = meter.Int64Counter(
		"cache.resolutions",
		metric.WithDescription("References substituted during resolution"),
		metric.WithUnit("{reference}"),
	); err != nil {
		return nil, err
	}

	if m.resolutionErrors, err = meter.Int64Counter(
		"cache.resolution.errors",
		metric.WithDescription("References that failed to resolve"),
		metric.WithUnit("{reference}"),
	); err != nil {
		return nil, err
	}

	if m.tasks, err = meter.Int64Counter(
		"cache.tasks",
		metric.WithDescription("Background tasks by lifecycle state"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func cacheAttr(cache string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("cache.name", cache))
}

func (m *metricsImpl) RecordLookup(ctx context.Context, cache string, hit bool) {
	opt := cacheAttr(cache)
	m.lookups.Add(ctx, 1, opt)
	if hit {
		m.hits.Add(ctx, 1, opt)
	}
}

func (m *metricsImpl) RecordStore(ctx context.Context, cache string, duration time.Duration) {
	opt := cacheAttr(cache)
	m.stores.Add(ctx, 1, opt)
	m.storeDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordEviction(ctx context.Context, cache string, count int) {
	if count > 0 {
		m.evictions.Add(ctx, int64(count), cacheAttr(cache))
	}
}

func (m *metricsImpl) RecordResolution(ctx context.Context, cache string, resolved, failed int) {
	opt := cacheAttr(cache)
	if resolved > 0 {
		m.resolutions.Add(ctx, int64(resolved), opt)
	}
	if failed > 0 {
		m.resolutionErrors.Add(ctx, int64(failed), opt)
	}
}

func (m *metricsImpl) RecordTask(ctx context.Context, cache string, status string) {
	m.tasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.name", cache),
		attribute.String("task.status", status),
	))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

// NoopMetrics returns a metrics implementation that drops everything.
func NoopMetrics() Metrics { return &noopMetrics{} }

func (m *noopMetrics) RecordLookup(ctx context.Context, cache string, hit bool)               {}
func (m *noopMetrics) RecordStore(ctx context.Context, cache string, duration time.Duration) {}
func (m *noopMetrics) RecordEviction(ctx context.Context, cache string, count int)           {}
func (m *noopMetrics) RecordResolution(ctx context.Context, cache string, resolved, failed int) {
}
func (m *noopMetrics) RecordTask(ctx context.Context, cache string, status string) {}
