package relay

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/dispatch"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/outbox"
)

// Report aggregates one processing run. Skipped counts events left pending
// because their type has no workflow mapping; Deferred counts events left
// pending because the workflow service could not be attempted.
type Report struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Deferred  int      `json:"deferred"`
	Errors    []string `json:"errors"`
}

type ProcessorOption func(*Processor)

// WithConcurrency bounds the number of events dispatched at once.
func WithConcurrency(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithLogger(logger *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) ProcessorOption {
	return func(p *Processor) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

func WithMeterProvider(provider metric.MeterProvider) ProcessorOption {
	return func(p *Processor) {
		p.meterProvider = provider
	}
}

type Processor struct {
	router        dispatch.Dispatcher
	concurrency   int
	logger        *zap.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	metrics       processorMetrics
}

func NewProcessor(router dispatch.Dispatcher, opts ...ProcessorOption) (*Processor, error) {
	p := &Processor{
		router:      router,
		concurrency: 1,
		logger:      zap.NewNop(),
		tracer:      noop.NewTracerProvider().Tracer("crossdispatch.noop"),
	}
	for _, opt := range opts {
		opt(p)
	}

	metrics, err := newProcessorMetrics(p.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("init relay metrics: %w", err)
	}
	p.metrics = metrics

	return p, nil
}

type resultKind int

const (
	untouched resultKind = iota
	published
	failed
	skipped
	deferred
)

type eventResult struct {
	kind   resultKind
	errors []string
}

// ProcessOutboxEvents drains one batch of pending events. It never fails:
// store and dispatch errors are reported in the Report. Events that have not
// been dispatched when ctx is cancelled stay pending for the next run.
func (p *Processor) ProcessOutboxEvents(ctx context.Context, store outbox.Store) Report {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "outbox.process")
	defer span.End()

	report := Report{Errors: []string{}}

	events, err := store.ListPendingEvents(ctx)
	if err != nil {
		p.logger.Error("outbox read failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "outbox read failed")
		report.Errors = append(report.Errors, "outbox read failed: "+err.Error())
		p.metrics.record(ctx, report, time.Since(start).Seconds())
		return report
	}
	span.SetAttributes(attribute.Int("outbox.batch_size", len(events)))

	// Each worker writes only its own slot; slots are merged in store order.
	results := make([]eventResult, len(events))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range events {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			results[i] = p.processOne(ctx, store, events[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		switch res.kind {
		case published:
			report.Processed++
		case failed:
			report.Failed++
		case skipped:
			report.Skipped++
		case deferred:
			report.Deferred++
		}
		report.Errors = append(report.Errors, res.errors...)
	}

	span.SetAttributes(
		attribute.Int("outbox.processed", report.Processed),
		attribute.Int("outbox.failed", report.Failed),
		attribute.Int("outbox.skipped", report.Skipped),
		attribute.Int("outbox.deferred", report.Deferred),
	)
	p.metrics.record(ctx, report, time.Since(start).Seconds())
	return report
}

func (p *Processor) processOne(ctx context.Context, store outbox.Store, event outbox.Event) eventResult {
	if ctx.Err() != nil {
		return eventResult{kind: untouched}
	}
	// Status writes must land even if the run is cancelled after dispatch.
	markCtx := context.WithoutCancel(ctx)
	logger := p.logger.With(
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
	)

	envelope, err := store.BuildEnvelope(event)
	if err != nil {
		return p.fail(markCtx, store, event, "build envelope: "+err.Error(), logger)
	}

	outcome := p.router.Dispatch(ctx, event.EventType, envelope.Payload, envelope.Routing)
	switch {
	case outcome.Unmapped:
		logger.Debug("outbox event has no workflow mapping, left pending")
		return eventResult{kind: skipped}
	case outcome.Dispatched:
		if err := store.MarkPublished(markCtx, event.ID); err != nil {
			logger.Error("workflow started but published state not persisted; event may be dispatched again",
				zap.String("run_id", outcome.RunID),
				zap.Error(err),
			)
			return eventResult{
				kind:   published,
				errors: []string{fmt.Sprintf("%s: mark published: %s", event.ID, err)},
			}
		}
		logger.Debug("outbox event published", zap.String("run_id", outcome.RunID))
		return eventResult{kind: published}
	case ctx.Err() != nil:
		// Interrupted by cancellation rather than a real dispatch failure.
		return eventResult{kind: untouched}
	case outcome.Deferred:
		// No delivery was attempted, so no retry is consumed.
		logger.Debug("workflow service unavailable, outbox event left pending", zap.String("error", outcome.Error))
		return eventResult{kind: deferred}
	default:
		return p.fail(markCtx, store, event, outcome.Error, logger)
	}
}

func (p *Processor) fail(
	ctx context.Context, store outbox.Store, event outbox.Event, reason string, logger *zap.Logger,
) eventResult {
	res := eventResult{
		kind:   failed,
		errors: []string{fmt.Sprintf("%s: %s", event.ID, reason)},
	}
	logger.Warn("outbox event dispatch failed", zap.String("error", reason), zap.Int("retry_count", event.RetryCount))
	if err := store.MarkFailed(ctx, event.ID, reason); err != nil {
		logger.Error("failed to record outbox dispatch failure", zap.Error(err))
		res.errors = append(res.errors, fmt.Sprintf("%s: mark failed: %s", event.ID, err))
	}
	return res
}
