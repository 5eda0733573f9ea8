package libdbexec

import (
	"context"
	"database/sql"
	"errors"
)

// Sentinel errors shared by all drivers. Stores compare against these
// instead of driver-specific error values.
var (
	ErrNotFound            = errors.New("libdb: not found")
	ErrTxFailed            = errors.New("libdb: transaction failed")
	ErrQueryCanceled       = errors.New("libdb: query canceled")
	ErrUniqueViolation     = errors.New("libdb: unique constraint violation")
	ErrForeignKeyViolation = errors.New("libdb: foreign key violation")
	ErrNotNullViolation    = errors.New("libdb: not null violation")
	ErrConstraintViolation = errors.New("libdb: constraint violation")
	ErrMaxRowsReached      = errors.New("libdb: max rows reached")
)

// QueryRower mirrors *sql.Row so Scan errors can be translated per driver.
type QueryRower interface {
	Scan(dest ...any) error
}

// Exec is the minimal execution surface stores depend on. It is satisfied
// by both a pooled connection and an open transaction.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) QueryRower
}

// CommitTx commits an open transaction.
type CommitTx func(ctx context.Context) error

// ReleaseTx rolls back if the transaction was not committed. Safe to defer
// unconditionally.
type ReleaseTx func() error

// DBManager owns a database handle and hands out executors.
type DBManager interface {
	WithoutTransaction() Exec
	WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error)
	Close() error
}

// txAwareDB implements Exec, delegating to an underlying *sql.DB or
// *sql.Tx and translating errors via the injected translator so sentinel
// errors are returned consistently regardless of driver.
type txAwareDB struct {
	db           *sql.DB
	tx           *sql.Tx
	errTranslate func(error) error
}

func (s *txAwareDB) translate(err error) error {
	if s.errTranslate == nil {
		return err
	}
	return s.errTranslate(err)
}

func (s *txAwareDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	switch {
	case s.tx != nil:
		res, err = s.tx.ExecContext(ctx, query, args...)
	case s.db != nil:
		res, err = s.db.ExecContext(ctx, query, args...)
	default:
		return nil, errors.New("libdb: Exec called on uninitialized txAwareDB")
	}
	if err != nil {
		return nil, s.translate(err)
	}
	return res, nil
}

func (s *txAwareDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	switch {
	case s.tx != nil:
		rows, err = s.tx.QueryContext(ctx, query, args...)
	case s.db != nil:
		rows, err = s.db.QueryContext(ctx, query, args...)
	default:
		return nil, errors.New("libdb: Query called on uninitialized txAwareDB")
	}
	if err != nil {
		return nil, s.translate(err)
	}
	return rows, nil
}

func (s *txAwareDB) QueryRowContext(ctx context.Context, query string, args ...any) QueryRower {
	var r *sql.Row
	switch {
	case s.tx != nil:
		r = s.tx.QueryRowContext(ctx, query, args...)
	case s.db != nil:
		r = s.db.QueryRowContext(ctx, query, args...)
	default:
		return &row{err: errors.New("libdb: QueryRow called on uninitialized txAwareDB")}
	}
	return &row{inner: r, errTranslate: s.errTranslate}
}

// row wraps *sql.Row so Scan errors pass through the driver translator.
type row struct {
	inner        *sql.Row
	err          error
	errTranslate func(error) error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	err := r.inner.Scan(dest...)
	if err != nil && r.errTranslate != nil {
		return r.errTranslate(err)
	}
	return err
}
