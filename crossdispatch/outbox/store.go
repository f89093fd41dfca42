package outbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrEmptyEventType     = errors.New("outbox: event type is empty")
	ErrEmptyAggregateType = errors.New("outbox: aggregate type is empty")
	ErrEventNotFound      = errors.New("outbox: event not found")
	// ErrNotPending is returned when a status transition is requested for an
	// event that has already left the pending state.
	ErrNotPending = errors.New("outbox: event is not pending")
)

// Appender is the capability producers need to enqueue an event.
type Appender interface {
	CreateEvent(ctx context.Context, data NewEventData) error
}

// Store owns event storage and every status transition.
//
// ListPendingEvents claims the returned events for a lease period so that
// concurrent drains never receive the same event; an event whose lease runs
// out without a transition becomes claimable again.
type Store interface {
	Appender
	ListPendingEvents(ctx context.Context) ([]Event, error)
	BuildEnvelope(event Event) (Envelope, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	// MarkFailed records the attempt. The event stays pending below the
	// retry ceiling and becomes failed when it is reached.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}
