package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/outbox"
)

const DefaultPollInterval = 5 * time.Second

// Runner invokes the processor once immediately and then every poll
// interval until its context is done.
type Runner struct {
	processor    *Processor
	store        outbox.Store
	pollInterval time.Duration
	logger       *zap.Logger
	onReport     func(Report)
	recoverProbe func(context.Context) error
}

func NewRunner(processor *Processor, store outbox.Store, pollInterval time.Duration, logger *zap.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		processor:    processor,
		store:        store,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// OnReport registers a callback that receives every run's report.
func (r *Runner) OnReport(callback func(Report)) {
	r.onReport = callback
}

// RecoverWith registers a probe run after every run that deferred events,
// typically the workflow client's Ping, which lifts its fail-fast state.
func (r *Runner) RecoverWith(probe func(ctx context.Context) error) {
	r.recoverProbe = probe
}

func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started", zap.Duration("poll_interval", r.pollInterval))
	defer r.logger.Info("outbox relay stopped")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		r.runOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report := r.processor.ProcessOutboxEvents(ctx, r.store)

	fields := []zap.Field{
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("deferred", report.Deferred),
	}
	switch {
	case len(report.Errors) > 0:
		r.logger.Warn("outbox run finished with errors", append(fields, zap.Strings("errors", report.Errors))...)
	case report.Deferred > 0:
		r.logger.Warn("outbox run deferred events, workflow service unavailable", fields...)
	case report.Processed+report.Skipped > 0:
		r.logger.Info("outbox run finished", fields...)
	}

	if report.Deferred > 0 && r.recoverProbe != nil && ctx.Err() == nil {
		if err := r.recoverProbe(ctx); err != nil {
			r.logger.Warn("workflow service still unavailable", zap.Error(err))
		} else {
			r.logger.Info("workflow service recovered, deferred events retry on the next run")
		}
	}

	if r.onReport != nil {
		r.onReport(report)
	}
}
