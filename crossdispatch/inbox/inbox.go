// Package inbox records received webhook deliveries in Postgres so a
// redelivery within the retention window is recognised as a duplicate.
package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
)

const (
	DefaultTable     = "webhook_inbox"
	DefaultRetention = 24 * time.Hour
)

type PgInbox struct {
	sessionPool session.SessionPool
	table       string
	retention   time.Duration
	now         func() time.Time
}

func NewInbox(sessionPool session.SessionPool, table string, retention time.Duration) *PgInbox {
	if table == "" {
		table = DefaultTable
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &PgInbox{
		sessionPool: sessionPool,
		table:       table,
		retention:   retention,
		now:         time.Now,
	}
}

// FirstDelivery records the delivery and reports whether it was unseen. A
// receipt past its retention is replaced and counts as unseen.
func (i *PgInbox) FirstDelivery(ctx context.Context, source, deliveryID string) (bool, error) {
	now := i.now().UTC()
	sql := fmt.Sprintf(`
		INSERT INTO %[1]s (source, delivery_id, received_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source, delivery_id) DO UPDATE
		SET received_at = EXCLUDED.received_at, expires_at = EXCLUDED.expires_at
		WHERE %[1]s.expires_at <= $3
	`, i.table)

	var first bool
	err := i.sessionPool.Session(ctx, func(s session.Session) error {
		res, err := s.(session.DbSession).Connection().Exec(sql, source, deliveryID, now, now.Add(i.retention))
		if err != nil {
			return errors.Wrapf(err, "record delivery %s/%s", source, deliveryID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		first = affected > 0
		return nil
	})
	return first, err
}

func (i *PgInbox) Forget(ctx context.Context, source, deliveryID string) error {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE source = $1 AND delivery_id = $2`, i.table)
	return i.sessionPool.Session(ctx, func(s session.Session) error {
		_, err := s.(session.DbSession).Connection().Exec(sql, source, deliveryID)
		return errors.Wrapf(err, "forget delivery %s/%s", source, deliveryID)
	})
}

// Purge deletes expired receipts and returns how many were removed.
func (i *PgInbox) Purge(ctx context.Context) (int64, error) {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, i.table)
	var removed int64
	err := i.sessionPool.Session(ctx, func(s session.Session) error {
		res, err := s.(session.DbSession).Connection().Exec(sql, i.now().UTC())
		if err != nil {
			return errors.Wrap(err, "purge inbox")
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

func (i *PgInbox) Setup(ctx context.Context) error {
	return i.sessionPool.Session(ctx, func(s session.Session) error {
		return s.Atomic(func(txSession session.Session) error {
			conn := txSession.(session.DbSession).Connection()
			if _, err := conn.Exec(fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					"source" VARCHAR(128) NOT NULL,
					"delivery_id" VARCHAR(255) NOT NULL,
					"received_at" TIMESTAMPTZ NOT NULL,
					"expires_at" TIMESTAMPTZ NOT NULL,
					PRIMARY KEY ("source", "delivery_id")
				)
			`, i.table)); err != nil {
				return errors.Wrap(err, "create inbox table")
			}
			if _, err := conn.Exec(fmt.Sprintf(
				`CREATE INDEX IF NOT EXISTS %[1]s_expires_at_idx ON %[1]s ("expires_at")`, i.table,
			)); err != nil {
				return errors.Wrap(err, "create inbox index")
			}
			return nil
		})
	})
}
