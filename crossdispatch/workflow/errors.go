package workflow

import "errors"

var (
	ErrEmptyEventType     = errors.New("workflow: event type is empty")
	ErrUntrimmedEventType = errors.New("workflow: event type has surrounding whitespace")
	ErrEmptyWorkflowID    = errors.New("workflow: workflow id is empty")
	ErrEmptyTaskQueue     = errors.New("workflow: task queue is empty")

	// ErrNotFound is returned by Signal and Cancel when the execution no
	// longer exists or has already completed.
	ErrNotFound = errors.New("workflow: execution not found")
	// ErrUnavailable is returned without network I/O once the service has
	// been found unreachable, until the gateway is reset.
	ErrUnavailable = errors.New("workflow: service unavailable")
	// ErrNotConfigured means no endpoint or credentials were supplied.
	ErrNotConfigured = errors.New("workflow: service not configured")
)
