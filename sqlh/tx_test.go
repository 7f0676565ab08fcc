package sqlh

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"testing"

	tstmysql "github.com/huangjunwen/tstsvc/mysql"
	"github.com/stretchr/testify/assert"
)

var (
	testTxErr       = errors.New("test tx error")
	testBeforeTxErr = errors.New("test before tx error")
)

func getDBSessionId(ctx context.Context, q Queryer) (id int64, err error) {
	err = q.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&id)
	return
}

func countRows(db *sql.DB, name string) (count int, err error) {
	err = db.QueryRow("SELECT COUNT(*) FROM sqlh_test.jobs WHERE name=?", name).Scan(&count)
	return
}

func TestWithTxOpts(t *testing.T) {
	log.Printf("\n")
	log.Printf(">>> TestWithTxOpts.\n")
	var err error
	assert := assert.New(t)

	// Starts test mysql server.
	var resMySQL *tstmysql.Resource
	{
		resMySQL, err = tstmysql.Run(nil)
		if err != nil {
			log.Panic(err)
		}
		defer resMySQL.Close()
		log.Printf("MySQL server started.\n")
	}

	// Connects to test mysql server.
	var db *sql.DB
	{
		db, err = resMySQL.Client()
		if err != nil {
			log.Panic(err)
		}
		defer db.Close()
		log.Printf("MySQL client created.\n")
	}

	{
		_, err := db.Exec("CREATE DATABASE IF NOT EXISTS sqlh_test")
		if err != nil {
			log.Panic(err)
		}
		_, err = db.Exec("CREATE TABLE IF NOT EXISTS sqlh_test.jobs (name VARCHAR(64) PRIMARY KEY)")
		if err != nil {
			log.Panic(err)
		}
		log.Printf("Test table created.\n")
	}

	bgctx := context.Background()
	insert := func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO sqlh_test.jobs (name) VALUES ('water')")
		assert.NoError(err)
		return err
	}
	expectRows := func(n int) func() {
		return func() {
			count, err := countRows(db, "water")
			assert.NoError(err)
			assert.Equal(n, count)
		}
	}

	var beforeSession int64
	for _, testCase := range []struct {
		Fn         func(context.Context, *sql.Tx) error
		Opts       *TxOptions
		ExpectErr  error
		ExtraCheck func()
	}{
		// Commit without options.
		{
			Fn:         insert,
			ExpectErr:  nil,
			ExtraCheck: expectRows(1),
		},
		// Rollback without options.
		{
			Fn: func(ctx context.Context, tx *sql.Tx) error {
				insert(ctx, tx)
				return Rollback
			},
			ExpectErr:  nil,
			ExtraCheck: expectRows(0),
		},
		// Error rollback without options.
		{
			Fn: func(ctx context.Context, tx *sql.Tx) error {
				insert(ctx, tx)
				return testTxErr
			},
			ExpectErr:  testTxErr,
			ExtraCheck: expectRows(0),
		},
		// BeforeTx returns error.
		{
			Fn: func(ctx context.Context, tx *sql.Tx) error {
				assert.Fail("Should not here")
				return nil
			},
			Opts: &TxOptions{
				BeforeTx: func(ctx context.Context, conn *sql.Conn) error {
					return testBeforeTxErr
				},
			},
			ExpectErr: testBeforeTxErr,
		},
		// Commit with options: hooks and tx share the same session.
		{
			Fn: func(ctx context.Context, tx *sql.Tx) error {
				id, err := getDBSessionId(ctx, tx)
				assert.NoError(err)
				assert.Equal(beforeSession, id)
				return insert(ctx, tx)
			},
			Opts: &TxOptions{
				BeforeTx: func(ctx context.Context, conn *sql.Conn) error {
					id, err := getDBSessionId(ctx, conn)
					beforeSession = id
					return err
				},
				AfterTx: func(ctx context.Context, conn *sql.Conn, committed bool) {
					assert.True(committed)
					id, err := getDBSessionId(ctx, conn)
					assert.NoError(err)
					assert.Equal(beforeSession, id)
				},
			},
			ExpectErr:  nil,
			ExtraCheck: expectRows(1),
		},
		// Rollback with options.
		{
			Fn: func(ctx context.Context, tx *sql.Tx) error {
				insert(ctx, tx)
				return testTxErr
			},
			Opts: &TxOptions{
				AfterTx: func(ctx context.Context, conn *sql.Conn, committed bool) {
					assert.False(committed)
				},
			},
			ExpectErr:  testTxErr,
			ExtraCheck: expectRows(0),
		},
	} {
		// Always clean test table first.
		_, err := db.Exec("DELETE FROM sqlh_test.jobs")
		if err != nil {
			log.Panic(err)
		}

		err = WithTxOpts(bgctx, db, testCase.Opts, testCase.Fn)
		assert.Equal(testCase.ExpectErr, err)
		if testCase.ExtraCheck != nil {
			testCase.ExtraCheck()
		}
	}

	// Panic rollbacks and goes on.
	{
		_, err := db.Exec("DELETE FROM sqlh_test.jobs")
		if err != nil {
			log.Panic(err)
		}

		assert.Panics(func() {
			WithTx(bgctx, db, func(ctx context.Context, tx *sql.Tx) error {
				insert(ctx, tx)
				panic("boom")
			})
		})
		expectRows(0)()
	}

}
