package pgx

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session/result"
)

// executor is satisfied by *pgxpool.Conn and pgx.Tx.
type executor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

// Session represents a database session without transaction
type Session struct {
	ctx  context.Context
	conn executor
}

func NewSession(ctx context.Context, conn executor) *Session {
	return &Session{ctx: ctx, conn: conn}
}

func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Connection() session.DbConnection {
	return &connection{ctx: s.ctx, exec: s.conn}
}

func (s *Session) Atomic(callback session.SessionCallback) error {
	tx, err := s.conn.Begin(s.ctx)
	if err != nil {
		return errors.Wrap(err, "unable to start transaction")
	}
	return runAtomic(s.ctx, tx, s, callback, "failed to commit transaction")
}

// TxSession represents a session inside a transaction. Nested Atomic calls
// open savepoints.
type TxSession struct {
	ctx    context.Context
	tx     pgx.Tx
	parent session.Session
}

func NewTxSession(ctx context.Context, tx pgx.Tx, parent session.Session) *TxSession {
	return &TxSession{ctx: ctx, tx: tx, parent: parent}
}

func (s *TxSession) Context() context.Context {
	return s.ctx
}

func (s *TxSession) Connection() session.DbConnection {
	return &connection{ctx: s.ctx, exec: s.tx}
}

func (s *TxSession) Atomic(callback session.SessionCallback) error {
	savepoint, err := s.tx.Begin(s.ctx)
	if err != nil {
		return errors.Wrap(err, "unable to start savepoint")
	}
	return runAtomic(s.ctx, savepoint, s, callback, "failed to release savepoint")
}

func runAtomic(ctx context.Context, tx pgx.Tx, parent session.Session, callback session.SessionCallback, commitMsg string) error {
	err := callback(NewTxSession(ctx, tx, parent))
	if err != nil {
		if txErr := tx.Rollback(ctx); txErr != nil {
			return multierror.Append(err, txErr)
		}
		return err
	}

	if txErr := tx.Commit(ctx); txErr != nil {
		return errors.Wrap(txErr, commitMsg)
	}

	return nil
}

// connection implements session.DbConnection
type connection struct {
	ctx  context.Context
	exec executor
}

func (c *connection) Exec(query string, args ...any) (session.Result, error) {
	tag, err := c.exec.Exec(c.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return result.NewResult(0, tag.RowsAffected()), nil
}

func (c *connection) Query(query string, args ...any) (session.Rows, error) {
	return c.exec.Query(c.ctx, query, args...)
}

func (c *connection) QueryRow(query string, args ...any) session.Row {
	return c.exec.QueryRow(c.ctx, query, args...)
}
