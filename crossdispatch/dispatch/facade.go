package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/outbox"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/workflow"
)

const (
	IntegrationWorkflow = "workflow"
	IntegrationOutbox   = "outbox"

	MetadataSchema  = "crossdispatch.event"
	MetadataVersion = 1

	ReasonUnmapped       = "unmapped"
	ReasonDispatchFailed = "dispatch_failed"
)

// CrossSystemResult tells the caller where an event went. Workflow reports
// synchronous delivery; an empty Integrations list means the event was
// neither delivered nor queued.
type CrossSystemResult struct {
	Workflow     bool     `json:"temporal"`
	Integrations []string `json:"integrations"`
}

func (r CrossSystemResult) Degraded() bool {
	return len(r.Integrations) == 0
}

type Facade struct {
	router Dispatcher
	logger *zap.Logger
}

func NewFacade(router Dispatcher, logger *zap.Logger) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{router: router, logger: logger}
}

// DispatchCrossSystem tries synchronous delivery and falls back to
// appending the event to the outbox. It never fails: the outcome is in the
// result.
func (f *Facade) DispatchCrossSystem(
	ctx context.Context,
	eventType string,
	payload map[string]any,
	appender outbox.Appender,
	routing workflow.RoutingContext,
) CrossSystemResult {
	outcome := f.router.Dispatch(ctx, eventType, payload, routing)
	if outcome.Dispatched {
		return CrossSystemResult{Workflow: true, Integrations: []string{IntegrationWorkflow}}
	}

	reason := ReasonDispatchFailed
	if outcome.Unmapped {
		reason = ReasonUnmapped
	}

	if appender == nil {
		f.logger.Error("event neither dispatched nor queued: no outbox available",
			zap.String("event_type", eventType),
			zap.String("tenant_id", routing.TenantID),
			zap.String("reason", reason),
		)
		return CrossSystemResult{Integrations: []string{}}
	}

	data := NewOutboxData(eventType, payload, routing, reason, outcome.Error)
	if err := appendEvent(ctx, appender, data); err != nil {
		f.logger.Error("event neither dispatched nor queued",
			zap.String("event_type", eventType),
			zap.String("tenant_id", routing.TenantID),
			zap.String("correlation_id", data.CorrelationID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return CrossSystemResult{Integrations: []string{}}
	}

	f.logger.Info("event queued in outbox",
		zap.String("event_type", eventType),
		zap.String("tenant_id", routing.TenantID),
		zap.String("correlation_id", data.CorrelationID),
		zap.String("reason", reason),
	)
	return CrossSystemResult{Integrations: []string{IntegrationOutbox}}
}

// appendEvent turns a panicking appender, such as a typed nil store, into an
// error.
func appendEvent(ctx context.Context, appender outbox.Appender, data outbox.NewEventData) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("outbox appender panic: %v", rec)
		}
	}()
	return appender.CreateEvent(ctx, data)
}

// NewOutboxData shapes an undelivered event as an outbox record.
func NewOutboxData(
	eventType string, payload map[string]any, routing workflow.RoutingContext, reason, dispatchError string,
) outbox.NewEventData {
	aggregateType := eventType
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		aggregateType = eventType[:i]
	}
	var aggregateID string
	if id, ok := payload["id"].(string); ok {
		aggregateID = id
	}
	correlationID := routing.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	metadata := map[string]any{
		"schema":  MetadataSchema,
		"version": MetadataVersion,
		"reason":  reason,
	}
	if dispatchError != "" && reason != ReasonUnmapped {
		metadata["dispatchError"] = dispatchError
	}

	return outbox.NewEventData{
		TenantID:      outbox.StringPtr(routing.TenantID),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		Metadata:      metadata,
		CorrelationID: correlationID,
		NodeID:        outbox.StringPtr(routing.NodeID),
		Channel:       outbox.StringPtr(routing.Channel),
	}
}
