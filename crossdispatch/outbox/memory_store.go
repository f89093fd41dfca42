package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MemoryStore keeps events in process memory with the same claim and
// retry rules as PgStore. Events do not survive a restart.
type MemoryStore struct {
	mu         sync.Mutex
	events     map[uuid.UUID]*memoryEntry
	order      []uuid.UUID
	batchSize  int
	leaseTTL   time.Duration
	maxRetries int
	now        func() time.Time
}

type memoryEntry struct {
	event        Event
	claimedUntil time.Time
}

func NewMemoryStore(batchSize int, leaseTTL time.Duration, maxRetries int) *MemoryStore {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &MemoryStore{
		events:     make(map[uuid.UUID]*memoryEntry),
		batchSize:  batchSize,
		leaseTTL:   leaseTTL,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

func (m *MemoryStore) CreateEvent(ctx context.Context, data NewEventData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := data.Validate(); err != nil {
		return err
	}
	event := NewEvent(data, m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = &memoryEntry{event: event}
	m.order = append(m.order, event.ID)
	return nil
}

func (m *MemoryStore) ListPendingEvents(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	for _, id := range m.order {
		if len(events) == m.batchSize {
			break
		}
		entry := m.events[id]
		if entry.event.Status != StatusPending || now.Before(entry.claimedUntil) {
			continue
		}
		entry.claimedUntil = now.Add(m.leaseTTL)
		entry.event.UpdatedAt = now
		events = append(events, entry.event)
	}
	return events, nil
}

func (m *MemoryStore) BuildEnvelope(event Event) (Envelope, error) {
	return BuildEnvelope(event)
}

func (m *MemoryStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	return m.transition(ctx, id, func(e *Event) {
		e.Status = StatusPublished
		e.LastError = nil
	})
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return m.transition(ctx, id, func(e *Event) {
		e.RetryCount++
		e.LastError = &reason
		if e.RetryCount >= m.maxRetries {
			e.Status = StatusFailed
		}
	})
}

func (m *MemoryStore) transition(ctx context.Context, id uuid.UUID, apply func(*Event)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.events[id]
	if !ok {
		return errors.Wrapf(ErrEventNotFound, "outbox event %s", id)
	}
	if entry.event.Status != StatusPending {
		return errors.Wrapf(ErrNotPending, "outbox event %s", id)
	}
	apply(&entry.event)
	entry.claimedUntil = time.Time{}
	entry.event.UpdatedAt = m.now().UTC()
	return nil
}

// Get returns a copy of the stored event.
func (m *MemoryStore) Get(id uuid.UUID) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.events[id]
	if !ok {
		return Event{}, false
	}
	return entry.event, true
}

// Events returns copies of all stored events in insertion order.
func (m *MemoryStore) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.events[id].event)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
