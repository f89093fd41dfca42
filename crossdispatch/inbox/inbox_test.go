package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session/result"
)

type mockConnection struct {
	execFunc func(query string, args ...any) (session.Result, error)
	queries  []string
	lastArgs []any
}

func (m *mockConnection) Exec(query string, args ...any) (session.Result, error) {
	m.queries = append(m.queries, query)
	m.lastArgs = args
	if m.execFunc != nil {
		return m.execFunc(query, args...)
	}
	return result.NewResult(0, 1), nil
}

func (m *mockConnection) Query(query string, args ...any) (session.Rows, error) {
	return nil, errors.New("not implemented")
}

func (m *mockConnection) QueryRow(query string, args ...any) session.Row {
	return nil
}

type mockDbSession struct {
	conn    *mockConnection
	atomics int
}

func (m *mockDbSession) Context() context.Context {
	return context.Background()
}

func (m *mockDbSession) Atomic(callback session.SessionCallback) error {
	m.atomics++
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

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockInbox(conn *mockConnection) (*PgInbox, *mockDbSession) {
	dbSession := &mockDbSession{conn: conn}
	inbox := NewInbox(&mockSessionPool{session: dbSession}, "", time.Hour)
	inbox.now = func() time.Time { return fixedNow }
	return inbox, dbSession
}

func TestNewInboxDefaults(t *testing.T) {
	inbox := NewInbox(&mockSessionPool{}, "", 0)

	assert.Equal(t, DefaultTable, inbox.table)
	assert.Equal(t, DefaultRetention, inbox.retention)
}

func TestFirstDeliveryRecordsReceipt(t *testing.T) {
	conn := &mockConnection{}
	inbox, _ := newMockInbox(conn)

	first, err := inbox.FirstDelivery(context.Background(), "payments", "evt-1")

	require.NoError(t, err)
	assert.True(t, first)
	assert.Contains(t, conn.queries[0], "INSERT INTO webhook_inbox")
	assert.Contains(t, conn.queries[0], "ON CONFLICT (source, delivery_id) DO UPDATE")
	assert.Contains(t, conn.queries[0], "WHERE webhook_inbox.expires_at <= $3")
	assert.Equal(t, []any{"payments", "evt-1", fixedNow, fixedNow.Add(time.Hour)}, conn.lastArgs)
}

func TestFirstDeliveryDetectsDuplicate(t *testing.T) {
	conn := &mockConnection{execFunc: func(string, ...any) (session.Result, error) {
		return result.NewResult(0, 0), nil
	}}
	inbox, _ := newMockInbox(conn)

	first, err := inbox.FirstDelivery(context.Background(), "payments", "evt-1")

	require.NoError(t, err)
	assert.False(t, first)
}

func TestFirstDeliveryWrapsFailure(t *testing.T) {
	boom := errors.New("connection reset")
	conn := &mockConnection{execFunc: func(string, ...any) (session.Result, error) {
		return nil, boom
	}}
	inbox, _ := newMockInbox(conn)

	first, err := inbox.FirstDelivery(context.Background(), "payments", "evt-1")

	assert.False(t, first)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "payments/evt-1")
}

func TestForgetDeletesReceipt(t *testing.T) {
	conn := &mockConnection{}
	inbox, _ := newMockInbox(conn)

	require.NoError(t, inbox.Forget(context.Background(), "payments", "evt-1"))

	assert.Contains(t, conn.queries[0], "DELETE FROM webhook_inbox WHERE source = $1 AND delivery_id = $2")
	assert.Equal(t, []any{"payments", "evt-1"}, conn.lastArgs)
}

func TestPurgeReturnsRemovedCount(t *testing.T) {
	conn := &mockConnection{execFunc: func(string, ...any) (session.Result, error) {
		return result.NewResult(0, 3), nil
	}}
	inbox, _ := newMockInbox(conn)

	removed, err := inbox.Purge(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.Equal(t, []any{fixedNow}, conn.lastArgs)
}

func TestSetupCreatesTableAndIndex(t *testing.T) {
	conn := &mockConnection{}
	inbox, dbSession := newMockInbox(conn)

	require.NoError(t, inbox.Setup(context.Background()))

	assert.Equal(t, 1, dbSession.atomics)
	require.Len(t, conn.queries, 2)
	assert.Contains(t, conn.queries[0], "CREATE TABLE IF NOT EXISTS webhook_inbox")
	assert.Contains(t, conn.queries[1], "webhook_inbox_expires_at_idx")
}

func TestSessionFailurePropagates(t *testing.T) {
	boom := errors.New("pool closed")
	inbox := NewInbox(&mockSessionPool{sessionErr: boom}, "", 0)

	_, err := inbox.FirstDelivery(context.Background(), "payments", "evt-1")

	assert.ErrorIs(t, err, boom)
}
