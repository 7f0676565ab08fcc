// Package mysqlworker implements repetitive.Worker on top of a MySQL job table:
// each cycle fetches the oldest pending job and processes it inside a
// transaction. A job failing MaxAttempts times is left in the table and is no
// longer fetched.
package mysqlworker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	perrors "github.com/pkg/errors"
	"gopkg.in/volatiletech/null.v6"

	"github.com/huangjunwen/repetask/sqlh"
	"github.com/huangjunwen/repetask/taskrunner/repetitive"
)

var (
	// DefaultMaxAttempts is the default value of MaxAttempts option.
	DefaultMaxAttempts = 3

	// maxErrorLen is the max length of last_error stored.
	maxErrorLen = 1024
)

var (
	// ErrJobNotFound is returned by Get when no such job.
	ErrJobNotFound = errors.New("mysqlworker: Job not found")

	tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)?$`)
)

var (
	_ repetitive.Worker    = (*Worker)(nil)
	_ repetitive.Describer = (*Worker)(nil)
)

// Job is a row of the job table.
type Job struct {
	ID        int64
	Payload   string
	Attempts  int
	LastError null.String
	Done      bool
}

// Handler handles a job. q is the transaction in which the job is marked done,
// so that handler's writes commit (or rollback) together with it.
type Handler func(ctx context.Context, q sqlh.Queryer, job *Job) error

// Worker fetches and processes jobs in a table.
type Worker struct {
	db          *sql.DB
	table       string
	handler     Handler
	maxAttempts int
}

// Option is the option in creating Worker.
type Option func(*Worker) error

// MaxAttempts sets how many times a job is tried. n >= 1.
func MaxAttempts(n int) Option {
	return func(w *Worker) error {
		if n < 1 {
			return fmt.Errorf("MaxAttempts < 1")
		}
		w.maxAttempts = n
		return nil
	}
}

// New creates a Worker on table (optionally qualified as "db.table").
func New(db *sql.DB, table string, handler Handler, opts ...Option) (*Worker, error) {
	if db == nil {
		return nil, fmt.Errorf("New: nil db")
	}
	if handler == nil {
		return nil, fmt.Errorf("New: nil handler")
	}
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		db:          db,
		table:       quoted,
		handler:     handler,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Fetch implements repetitive.Worker. It returns the oldest pending *Job, or nil.
func (w *Worker) Fetch(ctx context.Context) (interface{}, error) {
	job := &Job{}
	err := w.db.QueryRowContext(
		ctx,
		"SELECT id, payload, attempts, last_error FROM "+w.table+
			" WHERE done_at IS NULL AND attempts < ? ORDER BY id LIMIT 1",
		w.maxAttempts,
	).Scan(&job.ID, &job.Payload, &job.Attempts, &job.LastError)

	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, perrors.Wrap(err, "Fetch job error")
	}
	return job, nil
}

// Process implements repetitive.Worker. The job row is locked during handling.
// A handler error is recorded in the row and returned.
func (w *Worker) Process(ctx context.Context, task interface{}) error {
	job, ok := task.(*Job)
	if !ok {
		return perrors.Errorf("Process: unexpected task type %T", task)
	}

	skipped := false
	err := sqlh.WithTx(ctx, w.db, func(ctx context.Context, tx *sql.Tx) error {
		var pending bool
		err := tx.QueryRowContext(
			ctx,
			"SELECT done_at IS NULL FROM "+w.table+" WHERE id=? FOR UPDATE",
			job.ID,
		).Scan(&pending)
		if err == sql.ErrNoRows || (err == nil && !pending) {
			// Deleted or done since fetched.
			skipped = true
			return sqlh.Rollback
		}
		if err != nil {
			return perrors.Wrap(err, "Lock job error")
		}

		if err := w.handler(ctx, tx, job); err != nil {
			return err
		}

		_, err = tx.ExecContext(
			ctx,
			"UPDATE "+w.table+" SET done_at=NOW(6), attempts=attempts+1, last_error=NULL WHERE id=?",
			job.ID,
		)
		return perrors.Wrap(err, "Mark job done error")
	})
	if err == nil || skipped {
		return nil
	}

	if _, uerr := w.db.ExecContext(
		ctx,
		"UPDATE "+w.table+" SET attempts=attempts+1, last_error=? WHERE id=?",
		truncate(err.Error(), maxErrorLen),
		job.ID,
	); uerr != nil {
		return perrors.Wrapf(err, "(record failure error: %s)", uerr.Error())
	}
	return err
}

// Describe implements repetitive.Describer.
func (w *Worker) Describe(task interface{}) []interface{} {
	job, ok := task.(*Job)
	if !ok {
		return nil
	}
	return []interface{}{"jobId", job.ID, "attempts", job.Attempts}
}

// CreateTable creates the job table if not exists.
func CreateTable(ctx context.Context, q sqlh.Queryer, table string) error {
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+quoted+` (
  id BIGINT NOT NULL AUTO_INCREMENT,
  payload TEXT NOT NULL,
  attempts INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
  done_at DATETIME(6) NULL,
  PRIMARY KEY (id),
  KEY idx_pending (done_at, id)
)`)
	return perrors.Wrap(err, "Create table error")
}

// Enqueue adds a pending job and returns its id.
func Enqueue(ctx context.Context, q sqlh.Queryer, table, payload string) (int64, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return 0, err
	}
	r, err := q.ExecContext(ctx, "INSERT INTO "+quoted+" (payload) VALUES (?)", payload)
	if err != nil {
		return 0, perrors.Wrap(err, "Enqueue error")
	}
	return r.LastInsertId()
}

// Get returns a job by id.
func Get(ctx context.Context, q sqlh.Queryer, table string, id int64) (*Job, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}
	job := &Job{}
	err = q.QueryRowContext(
		ctx,
		"SELECT id, payload, attempts, last_error, done_at IS NOT NULL FROM "+quoted+" WHERE id=?",
		id,
	).Scan(&job.ID, &job.Payload, &job.Attempts, &job.LastError, &job.Done)

	switch {
	case err == sql.ErrNoRows:
		return nil, ErrJobNotFound
	case err != nil:
		return nil, perrors.Wrap(err, "Get job error")
	}
	return job, nil
}

func quoteTable(table string) (string, error) {
	if !tableNameRe.MatchString(table) {
		return "", fmt.Errorf("Invalid table name %q", table)
	}
	parts := strings.Split(table, ".")
	for i, part := range parts {
		parts[i] = "`" + part + "`"
	}
	return strings.Join(parts, "."), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
