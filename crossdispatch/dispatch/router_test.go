package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/workflow"
)

type startCall struct {
	WorkflowID string
	TaskQueue  string
	Input      map[string]any
	Routing    workflow.RoutingContext
}

type gatewayStub struct {
	mu     sync.Mutex
	calls  []startCall
	result workflow.StartResult
	err    error
	panic  any
}

func (g *gatewayStub) Start(
	_ context.Context, workflowID, taskQueue string, input map[string]any, routing workflow.RoutingContext,
) (workflow.StartResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, startCall{workflowID, taskQueue, input, routing})
	g.mu.Unlock()
	if g.panic != nil {
		panic(g.panic)
	}
	return g.result, g.err
}

func (g *gatewayStub) Calls() []startCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]startCall(nil), g.calls...)
}

func TestDispatchOrderPlaced(t *testing.T) {
	gateway := &gatewayStub{result: workflow.StartResult{RunID: "run-123", ExecutionID: "unified-order-orchestrator-x"}}
	router := NewRouter(workflow.DefaultRegistry(), gateway, nil, nil)

	outcome := router.Dispatch(context.Background(), "order.placed", map[string]any{"id": "order-1"}, workflow.RoutingContext{})

	assert.Equal(t, Outcome{Dispatched: true, RunID: "run-123", ExecutionID: "unified-order-orchestrator-x"}, outcome)
	require.Len(t, gateway.Calls(), 1)
	assert.Equal(t, startCall{
		WorkflowID: "unified-order-orchestrator",
		TaskQueue:  "commerce-queue",
		Input:      map[string]any{"id": "order-1"},
		Routing:    workflow.RoutingContext{},
	}, gateway.Calls()[0])
}

func TestDispatchPassesRoutingContext(t *testing.T) {
	gateway := &gatewayStub{result: workflow.StartResult{RunID: "run-1"}}
	router := NewRouter(workflow.DefaultRegistry(), gateway, nil, nil)
	routing := workflow.RoutingContext{TenantID: "t-1", NodeID: "node-eu", Channel: "b2b"}

	router.Dispatch(context.Background(), "invoice.issued", map[string]any{"total": 10}, routing)

	require.Len(t, gateway.Calls(), 1)
	assert.Equal(t, "invoice-settlement-workflow", gateway.Calls()[0].WorkflowID)
	assert.Equal(t, "finance-queue", gateway.Calls()[0].TaskQueue)
	assert.Equal(t, routing, gateway.Calls()[0].Routing)
}

func TestDispatchUnmappedSkipsGateway(t *testing.T) {
	gateway := &gatewayStub{}
	router := NewRouter(workflow.DefaultRegistry(), gateway, nil, nil)

	for _, eventType := range []string{"inventory.adjusted", "", "order"} {
		outcome := router.Dispatch(context.Background(), eventType, nil, workflow.RoutingContext{})

		assert.False(t, outcome.Dispatched)
		assert.True(t, outcome.Unmapped)
		assert.Equal(t, NoMappingMessage, outcome.Error)
	}
	assert.Empty(t, gateway.Calls())
}

func TestDispatchGatewayFailureIsAnOutcome(t *testing.T) {
	gateway := &gatewayStub{err: errors.New("dial tcp 10.0.0.1:7233: connection refused")}
	router := NewRouter(workflow.DefaultRegistry(), gateway, nil, nil)

	var outcome Outcome
	require.NotPanics(t, func() {
		outcome = router.Dispatch(context.Background(), "order.placed", map[string]any{"id": "order-1"}, workflow.RoutingContext{})
	})

	assert.False(t, outcome.Dispatched)
	assert.False(t, outcome.Unmapped)
	assert.False(t, outcome.Deferred)
	assert.Equal(t, "dial tcp 10.0.0.1:7233: connection refused", outcome.Error)
	assert.Len(t, gateway.Calls(), 1)
}

func TestDispatchMarksUnavailableGatewayAsDeferred(t *testing.T) {
	for _, err := range []error{
		workflow.ErrUnavailable,
		fmt.Errorf("connect: %w", workflow.ErrUnavailable),
		workflow.ErrNotConfigured,
	} {
		router := NewRouter(workflow.DefaultRegistry(), &gatewayStub{err: err}, nil, nil)

		outcome := router.Dispatch(context.Background(), "order.placed", nil, workflow.RoutingContext{})

		assert.False(t, outcome.Dispatched, err.Error())
		assert.True(t, outcome.Deferred, err.Error())
		assert.Equal(t, err.Error(), outcome.Error)
	}
}

func TestDispatchGatewayPanicIsAnOutcome(t *testing.T) {
	gateway := &gatewayStub{panic: "nil client"}
	router := NewRouter(workflow.DefaultRegistry(), gateway, nil, nil)

	var outcome Outcome
	require.NotPanics(t, func() {
		outcome = router.Dispatch(context.Background(), "vendor.onboarded", nil, workflow.RoutingContext{})
	})

	assert.False(t, outcome.Dispatched)
	assert.Contains(t, outcome.Error, "nil client")
}
