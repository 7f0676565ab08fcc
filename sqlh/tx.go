// Package sqlh contains helpers for database/sql.
package sqlh

import (
	"context"
	"database/sql"
	"errors"

	perrors "github.com/pkg/errors"
)

var (
	// Rollback is used to rollback a transaction without returning an error.
	Rollback = errors.New("Just rollback")
)

// Queryer is the common subset of *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	_ Queryer = (*sql.DB)(nil)
	_ Queryer = (*sql.Conn)(nil)
	_ Queryer = (*sql.Tx)(nil)
)

// TxOptions contains extra options for a db transaction.
type TxOptions struct {
	sql.TxOptions

	// BeforeTx will be called (if not nil) before transaction starts.
	// `conn` is the db session used to start transaction.
	// If the callback returns an error, WithTxOpts returns that error and the transaction
	// will not start.
	BeforeTx func(ctx context.Context, conn *sql.Conn) error

	// AfterTx will be called (if not nil) after transaction finished with the commit status.
	// `conn` is the db session used to start transaction.
	AfterTx func(ctx context.Context, conn *sql.Conn, committed bool)
}

// WithTx starts a transaction and run fn. If no error is returned by fn, the transaction will be committed.
// Otherwise it is rollbacked and the error is returned to the caller (except returning Rollback,
// which will rollback the transaction but not returning error).
func WithTx(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) error {
	return WithTxOpts(ctx, db, nil, fn)
}

// WithTxOpts is similar to WithTx with extra options. If fn panics, the
// transaction is rollbacked and the panic goes on.
func WithTxOpts(ctx context.Context, db *sql.DB, opts *TxOptions, fn func(context.Context, *sql.Tx) error) error {
	if opts == nil {
		opts = &TxOptions{}
	}

	// Without hooks there is no need to pin a connection.
	if opts.BeforeTx == nil && opts.AfterTx == nil {
		tx, err := db.BeginTx(ctx, &opts.TxOptions)
		if err != nil {
			return perrors.Wrap(err, "Begin tx error")
		}
		_, err = runTx(ctx, tx, fn)
		return err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return perrors.Wrap(err, "Get connection error")
	}
	defer conn.Close()

	if opts.BeforeTx != nil {
		if err := opts.BeforeTx(ctx, conn); err != nil {
			return err
		}
	}

	committed := false
	if opts.AfterTx != nil {
		defer func() {
			opts.AfterTx(ctx, conn, committed)
		}()
	}

	tx, err := conn.BeginTx(ctx, &opts.TxOptions)
	if err != nil {
		return perrors.Wrap(err, "Begin tx error")
	}
	committed, err = runTx(ctx, tx, fn)
	return err
}

// runTx runs fn in tx and commits or rollbacks it.
func runTx(ctx context.Context, tx *sql.Tx, fn func(context.Context, *sql.Tx) error) (committed bool, err error) {
	defer func() {
		if committed {
			return
		}
		// Also on panic.
		tx.Rollback()
	}()

	if err = fn(ctx, tx); err != nil {
		if err == Rollback {
			err = nil
		}
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, perrors.Wrap(err, "Commit tx error")
	}
	return true, nil
}
