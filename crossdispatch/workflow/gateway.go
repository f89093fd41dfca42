package workflow

import (
	"context"
	"time"
)

// MaxListLimit caps ListRunning regardless of the requested limit.
const MaxListLimit = 100

// RoutingContext is auxiliary addressing data passed with a workflow input.
// The zero value is the empty context.
type RoutingContext struct {
	TenantID      string `json:"tenantId,omitempty"`
	NodeID        string `json:"nodeId,omitempty"`
	Channel       string `json:"channel,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (rc RoutingContext) IsZero() bool {
	return rc == RoutingContext{}
}

type StartResult struct {
	// ExecutionID is the de-duplicated id addressed by Query/Signal/Cancel.
	ExecutionID string
	RunID       string
}

type QueryResult struct {
	Supported bool
	Value     any
}

type Execution struct {
	ExecutionID  string    `json:"workflowId"`
	RunID        string    `json:"runId"`
	WorkflowType string    `json:"workflowType"`
	TaskQueue    string    `json:"taskQueue"`
	Status       string    `json:"status"`
	StartTime    time.Time `json:"startTime"`
}

type ListFilter struct {
	WorkflowType string
	TaskQueue    string
	TenantID     string
	PageToken    string
}

type ListPage struct {
	Executions    []Execution
	NextPageToken string
}

// Gateway is the capability surface of the remote durable-execution service.
type Gateway interface {
	Start(ctx context.Context, workflowID, taskQueue string, input map[string]any, routing RoutingContext) (StartResult, error)
	Query(ctx context.Context, executionID, queryName string) (QueryResult, error)
	Signal(ctx context.Context, executionID, signalName string, data any) error
	Cancel(ctx context.Context, executionID string) error
	ListRunning(ctx context.Context, filter ListFilter, limit int) (ListPage, error)
}

// Starter is the subset of Gateway the dispatch router needs.
type Starter interface {
	Start(ctx context.Context, workflowID, taskQueue string, input map[string]any, routing RoutingContext) (StartResult, error)
}

// ClampListLimit maps a requested page size into [1, MaxListLimit].
func ClampListLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
