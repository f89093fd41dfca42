package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/workflow"
)

// NoMappingMessage is the Outcome.Error of an unmapped event type.
const NoMappingMessage = "No workflow mapped for event type"

// Outcome is the typed result of one dispatch attempt. It is never
// persisted; the relay derives the event's next status from it.
type Outcome struct {
	Dispatched  bool   `json:"dispatched"`
	RunID       string `json:"runId,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
	Error       string `json:"error,omitempty"`
	// Unmapped distinguishes "no destination" from a failed attempt.
	Unmapped bool `json:"-"`
	// Deferred marks a failure where the gateway made no delivery attempt
	// because the service is unavailable or not configured.
	Deferred bool `json:"-"`
}

type Registry interface {
	Lookup(eventType string) (workflow.Mapping, bool)
}

// Dispatcher is implemented by Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]any, routing workflow.RoutingContext) Outcome
}

type Router struct {
	registry Registry
	gateway  workflow.Starter
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewRouter(registry Registry, gateway workflow.Starter, logger *zap.Logger, tracer trace.Tracer) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("crossdispatch.noop")
	}
	return &Router{
		registry: registry,
		gateway:  gateway,
		logger:   logger,
		tracer:   tracer,
	}
}

// Dispatch starts the workflow mapped to eventType. Unmapped types are
// reported without contacting the gateway, and gateway failures (panics
// included) come back as an Outcome instead of an error.
func (r *Router) Dispatch(
	ctx context.Context, eventType string, payload map[string]any, routing workflow.RoutingContext,
) (outcome Outcome) {
	ctx, span := r.tracer.Start(ctx, "dispatch.route", trace.WithAttributes(
		attribute.String("event_type", eventType),
	))
	defer span.End()

	mapping, ok := r.registry.Lookup(eventType)
	if !ok {
		r.logger.Debug("no workflow mapped", zap.String("event_type", eventType))
		span.SetAttributes(attribute.Bool("unmapped", true))
		return Outcome{Error: NoMappingMessage, Unmapped: true}
	}
	span.SetAttributes(
		attribute.String("workflow_id", mapping.WorkflowID),
		attribute.String("task_queue", mapping.TaskQueue),
	)

	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("workflow gateway panic: %v", rec)
			r.logger.Error("workflow dispatch panicked",
				zap.String("event_type", eventType),
				zap.String("workflow_id", mapping.WorkflowID),
				zap.String("error", msg),
			)
			span.SetStatus(codes.Error, msg)
			outcome = Outcome{Error: msg}
		}
	}()

	res, err := r.gateway.Start(ctx, mapping.WorkflowID, mapping.TaskQueue, payload, routing)
	if err != nil {
		r.logger.Warn("workflow dispatch failed",
			zap.String("event_type", eventType),
			zap.String("workflow_id", mapping.WorkflowID),
			zap.String("task_queue", mapping.TaskQueue),
			zap.String("tenant_id", routing.TenantID),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{
			Error:    err.Error(),
			Deferred: errors.Is(err, workflow.ErrUnavailable) || errors.Is(err, workflow.ErrNotConfigured),
		}
	}

	span.SetAttributes(attribute.String("run_id", res.RunID))
	return Outcome{Dispatched: true, RunID: res.RunID, ExecutionID: res.ExecutionID}
}

var _ Dispatcher = (*Router)(nil)
