package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Mapping names the remote workflow and task queue an event type starts.
type Mapping struct {
	WorkflowID string
	TaskQueue  string
}

// Registry is an immutable event type → Mapping table. Lookups are pure.
type Registry struct {
	mappings map[string]Mapping
	keys     []string
}

// NewRegistry validates and copies table. Every invalid entry is reported.
func NewRegistry(table map[string]Mapping) (*Registry, error) {
	var result *multierror.Error
	mappings := make(map[string]Mapping, len(table))
	keys := make([]string, 0, len(table))

	for eventType, m := range table {
		normalized := strings.TrimSpace(eventType)
		switch {
		case normalized == "":
			result = multierror.Append(result, ErrEmptyEventType)
			continue
		case normalized != eventType:
			result = multierror.Append(result, fmt.Errorf("%w: %q", ErrUntrimmedEventType, eventType))
			continue
		case strings.TrimSpace(m.WorkflowID) == "":
			result = multierror.Append(result, fmt.Errorf("%w: %s", ErrEmptyWorkflowID, eventType))
			continue
		case strings.TrimSpace(m.TaskQueue) == "":
			result = multierror.Append(result, fmt.Errorf("%w: %s", ErrEmptyTaskQueue, eventType))
			continue
		}
		mappings[eventType] = m
		keys = append(keys, eventType)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return &Registry{mappings: mappings, keys: keys}, nil
}

// Lookup reports the mapping for eventType; ok is false for unregistered types.
func (r *Registry) Lookup(eventType string) (Mapping, bool) {
	m, ok := r.mappings[eventType]
	return m, ok
}

// ListEventTypes returns the registered event types in lexical order.
func (r *Registry) ListEventTypes() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

const (
	commerceQueue   = "commerce-queue"
	financeQueue    = "finance-queue"
	governanceQueue = "governance-queue"
	vendorQueue     = "vendor-queue"
)

// DefaultTable is the closed set of commerce events that start workflows.
func DefaultTable() map[string]Mapping {
	return map[string]Mapping{
		"order.placed":     {WorkflowID: "unified-order-orchestrator", TaskQueue: commerceQueue},
		"order.cancelled":  {WorkflowID: "order-cancellation-workflow", TaskQueue: commerceQueue},
		"company.created":  {WorkflowID: "company-provisioning-workflow", TaskQueue: commerceQueue},
		"invoice.issued":   {WorkflowID: "invoice-settlement-workflow", TaskQueue: financeQueue},
		"dispute.opened":   {WorkflowID: "dispute-resolution-workflow", TaskQueue: financeQueue},
		"tax.rule.changed": {WorkflowID: "tax-recalculation-workflow", TaskQueue: financeQueue},
		"policy.changed":   {WorkflowID: "policy-propagation-workflow", TaskQueue: governanceQueue},
		"vendor.onboarded": {WorkflowID: "vendor-onboarding-workflow", TaskQueue: vendorQueue},
	}
}

// DefaultRegistry panics if DefaultTable is invalid; that is a build defect,
// not a runtime condition.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultTable())
	if err != nil {
		panic(fmt.Sprintf("workflow: invalid default mapping table: %v", err))
	}
	return r
}
