package relay

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type processorMetrics struct {
	published   metric.Int64Counter
	failed      metric.Int64Counter
	skipped     metric.Int64Counter
	deferred    metric.Int64Counter
	runDuration metric.Float64Histogram
}

func newProcessorMetrics(provider metric.MeterProvider) (processorMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("crossdispatch.relay")

	var (
		metrics processorMetrics
		err     error
	)

	metrics.published, err = meter.Int64Counter(
		"outbox.events.published",
		metric.WithDescription("Number of outbox events dispatched and marked published"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return processorMetrics{}, fmt.Errorf("create outbox.events.published counter: %w", err)
	}

	metrics.failed, err = meter.Int64Counter(
		"outbox.events.failed",
		metric.WithDescription("Number of outbox dispatch attempts that failed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return processorMetrics{}, fmt.Errorf("create outbox.events.failed counter: %w", err)
	}

	metrics.skipped, err = meter.Int64Counter(
		"outbox.events.skipped",
		metric.WithDescription("Number of outbox events left pending because no workflow is mapped"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return processorMetrics{}, fmt.Errorf("create outbox.events.skipped counter: %w", err)
	}

	metrics.deferred, err = meter.Int64Counter(
		"outbox.events.deferred",
		metric.WithDescription("Number of outbox events left pending because the workflow service was unavailable"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return processorMetrics{}, fmt.Errorf("create outbox.events.deferred counter: %w", err)
	}

	metrics.runDuration, err = meter.Float64Histogram(
		"outbox.run.duration",
		metric.WithDescription("Duration of one outbox processing run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return processorMetrics{}, fmt.Errorf("create outbox.run.duration histogram: %w", err)
	}

	return metrics, nil
}

func (m processorMetrics) record(ctx context.Context, report Report, seconds float64) {
	if report.Processed > 0 {
		m.published.Add(ctx, int64(report.Processed))
	}
	if report.Failed > 0 {
		m.failed.Add(ctx, int64(report.Failed))
	}
	if report.Skipped > 0 {
		m.skipped.Add(ctx, int64(report.Skipped))
	}
	if report.Deferred > 0 {
		m.deferred.Add(ctx, int64(report.Deferred))
	}
	m.runDuration.Record(ctx, seconds)
}
