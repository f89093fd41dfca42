package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
)

const (
	DefaultTable      = "outbox_events"
	DefaultBatchSize  = 100
	DefaultLeaseTTL   = 30 * time.Second
	DefaultMaxRetries = 10
)

var eventColumns = []string{
	"id", "tenant_id", "event_type", "aggregate_type", "aggregate_id", "payload", "metadata",
	"correlation_id", "causation_id", "actor_id", "actor_role", "node_id", "channel",
	"status", "retry_count", "last_error", "created_at", "updated_at",
}

type PgStore struct {
	sessionPool session.SessionPool
	table       string
	batchSize   int
	leaseTTL    time.Duration
	maxRetries  int
	now         func() time.Time
}

func NewPgStore(
	sessionPool session.SessionPool,
	table string,
	batchSize int,
	leaseTTL time.Duration,
	maxRetries int,
) *PgStore {
	if table == "" {
		table = DefaultTable
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &PgStore{
		sessionPool: sessionPool,
		table:       table,
		batchSize:   batchSize,
		leaseTTL:    leaseTTL,
		maxRetries:  maxRetries,
		now:         time.Now,
	}
}

// Append inserts event using the caller's session, so the event commits or
// rolls back together with the caller's domain changes.
func (o *PgStore) Append(s session.DbSession, event Event) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s (
			id, tenant_id, event_type, aggregate_type, aggregate_id, payload, metadata,
			correlation_id, causation_id, actor_id, actor_role, node_id, channel,
			status, retry_count, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`, o.table)

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return errors.Wrap(err, "encode payload")
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}

	_, err = s.Connection().Exec(sql,
		event.ID.String(), event.TenantID, event.EventType, event.AggregateType, event.AggregateID,
		payload, metadata, event.CorrelationID, event.CausationID, event.ActorID, event.ActorRole,
		event.NodeID, event.Channel, string(event.Status), event.RetryCount, event.CreatedAt,
	)
	return errors.Wrapf(err, "insert outbox event %s", event.ID)
}

func (o *PgStore) CreateEvent(ctx context.Context, data NewEventData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	event := NewEvent(data, o.now())
	return o.sessionPool.Session(ctx, func(s session.Session) error {
		return o.Append(s.(session.DbSession), event)
	})
}

func (o *PgStore) ListPendingEvents(ctx context.Context) ([]Event, error) {
	now := o.now().UTC()
	sql := fmt.Sprintf(`
		WITH claimable AS (
			SELECT id
			FROM %s
			WHERE status = 'pending'
			AND (claimed_until IS NULL OR claimed_until < $1)
			ORDER BY created_at ASC, id ASC
			LIMIT %d
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %s AS e
		SET claimed_until = $2, updated_at = $1
		FROM claimable
		WHERE e.id = claimable.id
		RETURNING %s
	`, o.table, o.batchSize, o.table, selectList("e."))

	var events []Event
	err := o.sessionPool.Session(ctx, func(s session.Session) error {
		return s.Atomic(func(txSession session.Session) error {
			rows, err := txSession.(session.DbSession).Connection().Query(sql, now, now.Add(o.leaseTTL))
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				event, err := scanEvent(rows)
				if err != nil {
					return err
				}
				events = append(events, event)
			}
			return rows.Err()
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "claim pending outbox events")
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID.String() < events[j].ID.String()
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

func (o *PgStore) BuildEnvelope(event Event) (Envelope, error) {
	return BuildEnvelope(event)
}

func (o *PgStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = 'published', last_error = NULL, claimed_until = NULL, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, o.table)
	return o.transition(ctx, id, sql, id.String(), o.now().UTC())
}

func (o *PgStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET retry_count = retry_count + 1,
			last_error = $2,
			status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END,
			claimed_until = NULL,
			updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`, o.table)
	return o.transition(ctx, id, sql, id.String(), reason, o.maxRetries, o.now().UTC())
}

func (o *PgStore) transition(ctx context.Context, id uuid.UUID, sql string, args ...any) error {
	return o.sessionPool.Session(ctx, func(s session.Session) error {
		res, err := s.(session.DbSession).Connection().Exec(sql, args...)
		if err != nil {
			return errors.Wrapf(err, "update outbox event %s", id)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return errors.Wrapf(ErrNotPending, "outbox event %s", id)
		}
		return nil
	})
}

func (o *PgStore) Setup(ctx context.Context) error {
	return o.sessionPool.Session(ctx, func(s session.Session) error {
		return s.Atomic(func(txSession session.Session) error {
			return o.createTable(txSession.(session.DbSession))
		})
	})
}

func (o *PgStore) createTable(s session.DbSession) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			"id" UUID PRIMARY KEY,
			"tenant_id" VARCHAR(255) NULL,
			"event_type" VARCHAR(255) NOT NULL,
			"aggregate_type" VARCHAR(255) NOT NULL,
			"aggregate_id" VARCHAR(255) NOT NULL DEFAULT '',
			"payload" JSONB NOT NULL,
			"metadata" JSONB NOT NULL,
			"correlation_id" VARCHAR(255) NOT NULL,
			"causation_id" VARCHAR(255) NULL,
			"actor_id" VARCHAR(255) NULL,
			"actor_role" VARCHAR(255) NULL,
			"node_id" VARCHAR(255) NULL,
			"channel" VARCHAR(255) NULL,
			"status" VARCHAR(16) NOT NULL DEFAULT 'pending',
			"retry_count" INTEGER NOT NULL DEFAULT 0,
			"last_error" TEXT NULL,
			"claimed_until" TIMESTAMPTZ NULL,
			"created_at" TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			"updated_at" TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`, o.table)

	if _, err := s.Connection().Exec(sql); err != nil {
		return errors.Wrap(err, "create outbox table")
	}

	sqls := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_pending_idx ON %s ("created_at", "id") WHERE "status" = 'pending'`, o.table, o.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tenant_idx ON %s ("tenant_id")`, o.table, o.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_correlation_idx ON %s ("correlation_id")`, o.table, o.table),
	}
	for _, sql := range sqls {
		if _, err := s.Connection().Exec(sql); err != nil {
			return errors.Wrap(err, "create outbox index")
		}
	}
	return nil
}

func scanEvent(rows session.Rows) (Event, error) {
	var (
		e             Event
		id            string
		status        string
		payloadBytes  []byte
		metadataBytes []byte
	)
	err := rows.Scan(
		&id, &e.TenantID, &e.EventType, &e.AggregateType, &e.AggregateID, &payloadBytes, &metadataBytes,
		&e.CorrelationID, &e.CausationID, &e.ActorID, &e.ActorRole, &e.NodeID, &e.Channel,
		&status, &e.RetryCount, &e.LastError, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return Event{}, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return Event{}, errors.Wrapf(err, "parse outbox event id %q", id)
	}
	e.Status = Status(status)
	if err := json.Unmarshal(payloadBytes, &e.Payload); err != nil {
		return Event{}, errors.Wrapf(err, "decode payload of %s", id)
	}
	if err := json.Unmarshal(metadataBytes, &e.Metadata); err != nil {
		return Event{}, errors.Wrapf(err, "decode metadata of %s", id)
	}
	return e, nil
}

func selectList(prefix string) string {
	qualified := make([]string, len(eventColumns))
	for i, column := range eventColumns {
		qualified[i] = prefix + column
	}
	return strings.Join(qualified, ", ")
}

var _ Store = (*PgStore)(nil)
