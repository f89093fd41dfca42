// Package remote is the HTTP/JSON client of the durable-execution service.
//
// The client connects lazily: the first call authenticates against the
// namespace and caches the result. If that fails the client remembers the
// service as unavailable and every later call fails fast with
// workflow.ErrUnavailable until Reset is called or a Ping succeeds. This
// protects the outbox drain against a down dependency; the relay leaves
// events pending while the client fails fast and pings to recover.
package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session/rest"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/workflow"
)

const (
	DefaultCallTimeout         = 10 * time.Second
	DefaultConsecutiveFailures = 5
	DefaultOpenTimeout         = 30 * time.Second
)

type Config struct {
	Endpoint    string
	Namespace   string
	APIKey      string
	CallTimeout time.Duration

	// Breaker trips after ConsecutiveFailures transport or 5xx failures and
	// stays open for OpenTimeout.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

type Option func(*Client)

func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type Client struct {
	cfg       Config
	base      string
	transport http.RoundTripper
	pool      *rest.SessionPool
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger

	mu          sync.Mutex
	connected   bool
	unavailable bool
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}

	c := &Client{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.base = strings.TrimRight(cfg.Endpoint, "/") + "/api/v1/namespaces/" + url.PathEscape(cfg.Namespace)
	c.pool = rest.NewSessionPool(
		c.transport,
		rest.WithHeader("Authorization", "Bearer "+cfg.APIKey),
		rest.WithHeader("Accept", "application/json"),
	)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "workflow-" + cfg.Namespace,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("workflow circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// Pool exposes the underlying session pool so callers can observe requests.
func (c *Client) Pool() *rest.SessionPool {
	return c.pool
}

func (c *Client) Configured() bool {
	return c.cfg.Endpoint != "" && c.cfg.APIKey != ""
}

// Reset forgets both the cached connection and the unavailable flag.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.unavailable = false
}

// Unavailable reports whether calls currently fail fast.
func (c *Client) Unavailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unavailable
}

// Ping probes the namespace regardless of the cached state. A successful
// probe clears the unavailable flag.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return workflow.ErrNotConfigured
	}
	if err := c.do(ctx, http.MethodGet, "", nil, nil); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable {
		c.logger.Info("workflow service reachable again",
			zap.String("endpoint", c.cfg.Endpoint),
			zap.String("namespace", c.cfg.Namespace),
		)
	}
	c.unavailable = false
	c.connected = true
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	if !c.Configured() {
		return workflow.ErrNotConfigured
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unavailable {
		return workflow.ErrUnavailable
	}
	if c.connected {
		return nil
	}
	// The probe is detached from the caller: only the service's own answer
	// or the call timeout may mark it unavailable.
	if err := c.do(context.WithoutCancel(ctx), http.MethodGet, "", nil, nil); err != nil {
		c.unavailable = true
		c.logger.Error("workflow service unreachable, failing fast until reset",
			zap.String("endpoint", c.cfg.Endpoint),
			zap.String("namespace", c.cfg.Namespace),
			zap.Error(err),
		)
		return &unavailableError{cause: err}
	}
	c.connected = true
	return nil
}

type startRequest struct {
	WorkflowType string                  `json:"workflowType"`
	TaskQueue    string                  `json:"taskQueue"`
	Input        map[string]any          `json:"input"`
	Memo         workflow.RoutingContext `json:"memo"`
}

type startResponse struct {
	RunID string `json:"runId"`
}

func (c *Client) Start(
	ctx context.Context, workflowID, taskQueue string, input map[string]any, routing workflow.RoutingContext,
) (workflow.StartResult, error) {
	if strings.TrimSpace(workflowID) == "" {
		return workflow.StartResult{}, workflow.ErrEmptyWorkflowID
	}
	if err := c.connect(ctx); err != nil {
		return workflow.StartResult{}, err
	}
	if input == nil {
		input = map[string]any{}
	}

	executionID := NewExecutionID(workflowID)
	var resp startResponse
	err := c.do(ctx, http.MethodPost, "/workflows/"+url.PathEscape(executionID), startRequest{
		WorkflowType: workflowID,
		TaskQueue:    taskQueue,
		Input:        input,
		Memo:         routing,
	}, &resp)
	if err != nil {
		return workflow.StartResult{}, errors.Wrapf(err, "start %s", workflowID)
	}

	c.logger.Debug("workflow started",
		zap.String("workflow_id", workflowID),
		zap.String("task_queue", taskQueue),
		zap.String("execution_id", executionID),
		zap.String("run_id", resp.RunID),
	)
	return workflow.StartResult{ExecutionID: executionID, RunID: resp.RunID}, nil
}

type queryResponse struct {
	Result any `json:"result"`
}

func (c *Client) Query(ctx context.Context, executionID, queryName string) (workflow.QueryResult, error) {
	if err := c.connect(ctx); err != nil {
		return workflow.QueryResult{}, err
	}

	var resp queryResponse
	err := c.do(ctx, http.MethodPost, executionPath(executionID)+"/query/"+url.PathEscape(queryName), struct{}{}, &resp)
	if err != nil {
		if isQueryNotSupported(err) {
			return workflow.QueryResult{Supported: false}, nil
		}
		return workflow.QueryResult{}, errors.Wrapf(err, "query %s on %s", queryName, executionID)
	}
	return workflow.QueryResult{Supported: true, Value: resp.Result}, nil
}

type signalRequest struct {
	Input any `json:"input"`
}

func (c *Client) Signal(ctx context.Context, executionID, signalName string, data any) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	err := c.do(ctx, http.MethodPost, executionPath(executionID)+"/signal/"+url.PathEscape(signalName), signalRequest{Input: data}, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return errors.Wrapf(workflow.ErrNotFound, "signal %s on %s", signalName, executionID)
		}
		return errors.Wrapf(err, "signal %s on %s", signalName, executionID)
	}
	return nil
}

func (c *Client) Cancel(ctx context.Context, executionID string) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	err := c.do(ctx, http.MethodPost, executionPath(executionID)+"/cancel", struct{}{}, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound, http.StatusConflict) {
			return errors.Wrapf(workflow.ErrNotFound, "cancel %s", executionID)
		}
		return errors.Wrapf(err, "cancel %s", executionID)
	}
	return nil
}

type listResponse struct {
	Executions    []workflow.Execution `json:"executions"`
	NextPageToken string               `json:"nextPageToken"`
}

func (c *Client) ListRunning(ctx context.Context, filter workflow.ListFilter, limit int) (workflow.ListPage, error) {
	if err := c.connect(ctx); err != nil {
		return workflow.ListPage{}, err
	}

	pageSize := workflow.ClampListLimit(limit)
	params := url.Values{}
	params.Set("query", listQuery(filter))
	params.Set("pageSize", strconv.Itoa(pageSize))
	if filter.PageToken != "" {
		params.Set("nextPageToken", filter.PageToken)
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/workflows?"+params.Encode(), nil, &resp); err != nil {
		return workflow.ListPage{}, errors.Wrap(err, "list running workflows")
	}

	executions := resp.Executions
	if len(executions) > pageSize {
		executions = executions[:pageSize]
	}
	return workflow.ListPage{Executions: executions, NextPageToken: resp.NextPageToken}, nil
}

// NewExecutionID derives a unique execution id from the logical workflow id.
// The ulid's millisecond timestamp keeps repeated triggers from colliding at
// the transport level; it does not make the start idempotent.
func NewExecutionID(workflowID string) string {
	return workflowID + "-" + ulid.Make().String()
}

func executionPath(executionID string) string {
	return "/workflows/" + url.PathEscape(executionID)
}

func listQuery(filter workflow.ListFilter) string {
	clauses := []string{"ExecutionStatus='Running'"}
	if filter.WorkflowType != "" {
		clauses = append(clauses, "WorkflowType='"+escapeQuote(filter.WorkflowType)+"'")
	}
	if filter.TaskQueue != "" {
		clauses = append(clauses, "TaskQueue='"+escapeQuote(filter.TaskQueue)+"'")
	}
	if filter.TenantID != "" {
		clauses = append(clauses, "TenantId='"+escapeQuote(filter.TenantID)+"'")
	}
	return strings.Join(clauses, " AND ")
}

func escapeQuote(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

var _ workflow.Gateway = (*Client)(nil)
