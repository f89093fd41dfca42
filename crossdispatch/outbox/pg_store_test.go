package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session/result"
)

type mockRows struct {
	rows  [][]any
	index int
	err   error
}

func (m *mockRows) Next() bool {
	if m.index < len(m.rows) {
		m.index++
		return true
	}
	return false
}

func (m *mockRows) Scan(dest ...any) error {
	if m.index == 0 || m.index > len(m.rows) {
		return errors.New("no current row")
	}
	row := m.rows[m.index-1]
	for i, val := range row {
		if i >= len(dest) {
			break
		}
		switch d := dest[i].(type) {
		case *string:
			*d = val.(string)
		case **string:
			if val == nil {
				*d = nil
			} else {
				s := val.(string)
				*d = &s
			}
		case *int:
			*d = val.(int)
		case *[]byte:
			*d = val.([]byte)
		case *time.Time:
			*d = val.(time.Time)
		}
	}
	return nil
}

func (m *mockRows) Close() {}

func (m *mockRows) Err() error {
	return m.err
}

type mockConnection struct {
	execFunc  func(query string, args ...any) (session.Result, error)
	queryFunc func(query string, args ...any) (session.Rows, error)
	lastQuery string
	lastArgs  []any
	execs     int
}

func (m *mockConnection) Exec(query string, args ...any) (session.Result, error) {
	m.lastQuery = query
	m.lastArgs = args
	m.execs++
	if m.execFunc != nil {
		return m.execFunc(query, args...)
	}
	return result.NewResult(0, 1), nil
}

func (m *mockConnection) Query(query string, args ...any) (session.Rows, error) {
	m.lastQuery = query
	m.lastArgs = args
	if m.queryFunc != nil {
		return m.queryFunc(query, args...)
	}
	return &mockRows{}, nil
}

func (m *mockConnection) QueryRow(query string, args ...any) session.Row {
	m.lastQuery = query
	m.lastArgs = args
	return nil
}

type mockDbSession struct {
	conn      *mockConnection
	atomicErr error
	atomics   int
}

func (m *mockDbSession) Context() context.Context {
	return context.Background()
}

func (m *mockDbSession) Atomic(callback session.SessionCallback) error {
	m.atomics++
	if m.atomicErr != nil {
		return m.atomicErr
	}
	return callback(m)
}

func (m *mockDbSession) Connection() session.DbConnection {
	return m.conn
}

type mockSessionPool struct {
	session    *mockDbSession
	sessionErr error
}

func (m *mockSessionPool) Session(ctx context.Context, callback session.SessionPoolCallback) error {
	if m.sessionErr != nil {
		return m.sessionErr
	}
	return callback(m.session)
}

func newMockStore(conn *mockConnection) (*PgStore, *mockDbSession) {
	dbSession := &mockDbSession{conn: conn}
	store := NewPgStore(&mockSessionPool{session: dbSession}, "", 0, 0, 0)
	store.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	return store, dbSession
}

func eventRow(id uuid.UUID, eventType string, createdAt time.Time) []any {
	return []any{
		id.String(), "tenant-1", eventType, "order", "order-1",
		[]byte(`{"id":"order-1"}`), []byte(`{"schema":"crossdispatch.event","version":1}`),
		"corr-1", nil, "user-7", "buyer", nil, "web",
		"pending", 2, "boom", createdAt, createdAt,
	}
}

func TestNewPgStoreDefaults(t *testing.T) {
	store := NewPgStore(nil, "", 0, 0, 0)

	assert.Equal(t, DefaultTable, store.table)
	assert.Equal(t, DefaultBatchSize, store.batchSize)
	assert.Equal(t, DefaultLeaseTTL, store.leaseTTL)
	assert.Equal(t, DefaultMaxRetries, store.maxRetries)
}

func TestAppendInsertsEvent(t *testing.T) {
	conn := &mockConnection{}
	store, dbSession := newMockStore(conn)
	event := NewEvent(NewEventData{
		TenantID:      StringPtr("tenant-1"),
		EventType:     "order.placed",
		AggregateType: "order",
		AggregateID:   "order-1",
		Payload:       map[string]any{"id": "order-1"},
	}, store.now())

	err := store.Append(dbSession, event)
	require.NoError(t, err)

	assert.Contains(t, conn.lastQuery, "INSERT INTO outbox_events")
	require.Len(t, conn.lastArgs, 16)
	assert.Equal(t, event.ID.String(), conn.lastArgs[0])
	assert.Equal(t, "order.placed", conn.lastArgs[2])
	assert.JSONEq(t, `{"id":"order-1"}`, string(conn.lastArgs[5].([]byte)))
	assert.Equal(t, "pending", conn.lastArgs[13])
	assert.Equal(t, 0, conn.lastArgs[14])
}

func TestAppendUsesCustomTableName(t *testing.T) {
	conn := &mockConnection{}
	dbSession := &mockDbSession{conn: conn}
	store := NewPgStore(nil, "custom_outbox", 10, time.Second, 3)

	err := store.Append(dbSession, NewEvent(NewEventData{EventType: "x.y", AggregateType: "x"}, time.Now()))
	require.NoError(t, err)

	assert.Contains(t, conn.lastQuery, "custom_outbox")
}

func TestCreateEventValidates(t *testing.T) {
	conn := &mockConnection{}
	store, _ := newMockStore(conn)

	err := store.CreateEvent(context.Background(), NewEventData{AggregateType: "order"})

	assert.ErrorIs(t, err, ErrEmptyEventType)
	assert.Equal(t, 0, conn.execs)
}

func TestCreateEventPropagatesStoreFailure(t *testing.T) {
	conn := &mockConnection{
		execFunc: func(string, ...any) (session.Result, error) {
			return nil, errors.New("connection reset")
		},
	}
	store, _ := newMockStore(conn)

	err := store.CreateEvent(context.Background(), NewEventData{EventType: "order.placed", AggregateType: "order"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestListPendingEventsClaimsWithLease(t *testing.T) {
	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)
	first, second := uuid.New(), uuid.New()
	conn := &mockConnection{
		queryFunc: func(string, ...any) (session.Rows, error) {
			return &mockRows{rows: [][]any{
				eventRow(second, "invoice.issued", newer),
				eventRow(first, "order.placed", older),
			}}, nil
		},
	}
	store, dbSession := newMockStore(conn)

	events, err := store.ListPendingEvents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, dbSession.atomics)
	assert.Contains(t, conn.lastQuery, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, conn.lastQuery, "LIMIT 100")
	assert.Contains(t, conn.lastQuery, "RETURNING e.id, e.tenant_id")
	require.Len(t, conn.lastArgs, 2)
	assert.Equal(t, store.now().Add(DefaultLeaseTTL), conn.lastArgs[1])

	require.Len(t, events, 2)
	assert.Equal(t, first, events[0].ID, "ordered by creation time")
	assert.Equal(t, second, events[1].ID)

	e := events[0]
	assert.Equal(t, "tenant-1", *e.TenantID)
	assert.Nil(t, e.CausationID)
	assert.Nil(t, e.NodeID)
	assert.Equal(t, "web", *e.Channel)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, 2, e.RetryCount)
	assert.Equal(t, map[string]any{"id": "order-1"}, e.Payload)
	assert.Equal(t, "crossdispatch.event", e.Metadata["schema"])
}

func TestListPendingEventsWrapsFailure(t *testing.T) {
	conn := &mockConnection{
		queryFunc: func(string, ...any) (session.Rows, error) {
			return nil, errors.New("relation does not exist")
		},
	}
	store, _ := newMockStore(conn)

	events, err := store.ListPendingEvents(context.Background())

	assert.Nil(t, events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim pending outbox events")
	assert.Contains(t, err.Error(), "relation does not exist")
}

func TestListPendingEventsRejectsCorruptPayload(t *testing.T) {
	row := eventRow(uuid.New(), "order.placed", time.Now())
	row[5] = []byte(`{not json`)
	conn := &mockConnection{
		queryFunc: func(string, ...any) (session.Rows, error) {
			return &mockRows{rows: [][]any{row}}, nil
		},
	}
	store, _ := newMockStore(conn)

	_, err := store.ListPendingEvents(context.Background())

	assert.Error(t, err)
}

func TestMarkPublished(t *testing.T) {
	conn := &mockConnection{}
	store, _ := newMockStore(conn)
	id := uuid.New()

	err := store.MarkPublished(context.Background(), id)
	require.NoError(t, err)

	assert.Contains(t, conn.lastQuery, "status = 'published'")
	assert.Contains(t, conn.lastQuery, "status = 'pending'")
	assert.Equal(t, id.String(), conn.lastArgs[0])
}

func TestMarkPublishedNotPending(t *testing.T) {
	conn := &mockConnection{
		execFunc: func(string, ...any) (session.Result, error) {
			return result.NewResult(0, 0), nil
		},
	}
	store, _ := newMockStore(conn)

	err := store.MarkPublished(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ErrNotPending)
}

func TestMarkFailedIncrementsRetryUnderCeiling(t *testing.T) {
	conn := &mockConnection{}
	dbSession := &mockDbSession{conn: conn}
	store := NewPgStore(&mockSessionPool{session: dbSession}, "", 0, 0, 5)
	id := uuid.New()

	err := store.MarkFailed(context.Background(), id, "workflow service: 503")
	require.NoError(t, err)

	assert.Contains(t, conn.lastQuery, "retry_count = retry_count + 1")
	assert.Contains(t, conn.lastQuery, "CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END")
	require.Len(t, conn.lastArgs, 4)
	assert.Equal(t, id.String(), conn.lastArgs[0])
	assert.Equal(t, "workflow service: 503", conn.lastArgs[1])
	assert.Equal(t, 5, conn.lastArgs[2])
}

func TestSessionFailureSurfaces(t *testing.T) {
	store := NewPgStore(&mockSessionPool{sessionErr: errors.New("pool closed")}, "", 0, 0, 0)

	err := store.MarkFailed(context.Background(), uuid.New(), "x")

	assert.EqualError(t, err, "pool closed")
}

func TestSetupCreatesTableAndIndexes(t *testing.T) {
	var queries []string
	conn := &mockConnection{
		execFunc: func(query string, args ...any) (session.Result, error) {
			queries = append(queries, query)
			return result.NewResult(0, 0), nil
		},
	}
	store, dbSession := newMockStore(conn)

	require.NoError(t, store.Setup(context.Background()))

	assert.Equal(t, 1, dbSession.atomics)
	require.Len(t, queries, 4)
	assert.Contains(t, queries[0], "CREATE TABLE IF NOT EXISTS outbox_events")
	assert.Contains(t, queries[0], `"claimed_until" TIMESTAMPTZ NULL`)
	assert.Contains(t, queries[1], "WHERE \"status\" = 'pending'")
}

func TestAppendEncodesMetadata(t *testing.T) {
	conn := &mockConnection{}
	store, dbSession := newMockStore(conn)
	event := NewEvent(NewEventData{
		EventType:     "policy.changed",
		AggregateType: "policy",
		Metadata:      map[string]any{"reason": "unmapped"},
	}, store.now())

	require.NoError(t, store.Append(dbSession, event))

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(conn.lastArgs[6].([]byte), &metadata))
	assert.Equal(t, "unmapped", metadata["reason"])
}
