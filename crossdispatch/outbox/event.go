package outbox

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/workflow"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Event is a persisted outbox entry. Nil pointers are SQL NULLs.
type Event struct {
	ID            uuid.UUID
	TenantID      *string
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       map[string]any
	Metadata      map[string]any
	CorrelationID string
	CausationID   *string
	ActorID       *string
	ActorRole     *string
	NodeID        *string
	Channel       *string
	Status        Status
	RetryCount    int
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewEventData is what a producer supplies; identity, status and timestamps
// are assigned by the store.
type NewEventData struct {
	TenantID      *string
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       map[string]any
	Metadata      map[string]any
	CorrelationID string
	CausationID   *string
	ActorID       *string
	ActorRole     *string
	NodeID        *string
	Channel       *string
}

func (d NewEventData) Validate() error {
	if strings.TrimSpace(d.EventType) == "" {
		return ErrEmptyEventType
	}
	if strings.TrimSpace(d.AggregateType) == "" {
		return ErrEmptyAggregateType
	}
	return nil
}

// NewEvent materializes data as a pending event.
func NewEvent(data NewEventData, now time.Time) Event {
	payload := data.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	metadata := data.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	correlationID := data.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	now = now.UTC()
	return Event{
		ID:            uuid.New(),
		TenantID:      data.TenantID,
		EventType:     data.EventType,
		AggregateType: data.AggregateType,
		AggregateID:   data.AggregateID,
		Payload:       payload,
		Metadata:      metadata,
		CorrelationID: correlationID,
		CausationID:   data.CausationID,
		ActorID:       data.ActorID,
		ActorRole:     data.ActorRole,
		NodeID:        data.NodeID,
		Channel:       data.Channel,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Envelope is the dispatch-ready shape of an Event.
type Envelope struct {
	EventID   uuid.UUID
	EventType string
	Payload   map[string]any
	Routing   workflow.RoutingContext
}

// BuildEnvelope wraps the stored payload with the event's identity and
// tracing attributes so the receiving workflow can de-duplicate and trace.
func BuildEnvelope(e Event) (Envelope, error) {
	if e.EventType == "" {
		return Envelope{}, ErrEmptyEventType
	}

	data := e.Payload
	if data == nil {
		data = map[string]any{}
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	payload := map[string]any{
		"eventId":       e.ID.String(),
		"eventType":     e.EventType,
		"aggregateType": e.AggregateType,
		"aggregateId":   e.AggregateID,
		"correlationId": e.CorrelationID,
		"occurredAt":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"attempt":       e.RetryCount + 1,
		"metadata":      metadata,
		"data":          data,
	}
	putOptional(payload, "tenantId", e.TenantID)
	putOptional(payload, "causationId", e.CausationID)
	putOptional(payload, "actorId", e.ActorID)
	putOptional(payload, "actorRole", e.ActorRole)

	return Envelope{
		EventID:   e.ID,
		EventType: e.EventType,
		Payload:   payload,
		Routing: workflow.RoutingContext{
			TenantID:      deref(e.TenantID),
			NodeID:        deref(e.NodeID),
			Channel:       deref(e.Channel),
			CorrelationID: e.CorrelationID,
		},
	}, nil
}

func putOptional(m map[string]any, key string, value *string) {
	if value != nil {
		m[key] = *value
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
