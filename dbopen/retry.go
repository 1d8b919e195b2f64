package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Retry policy for lock contention: attempts, first backoff, doubling.
const (
	attempts    = 4
	baseBackoff = 50 * time.Millisecond
)

// IsBusy reports whether err is lock contention worth retrying: the
// driver's SQLITE_BUSY or SQLITE_LOCKED primary codes, or their message
// when the error crossed a boundary that dropped its type.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx runs fn in a transaction, retrying the whole transaction while
// the database is busy. fn's error rolls the transaction back and is
// returned unwrapped.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	_, err := retry(ctx, "tx", func() (struct{}, error) {
		return struct{}{}, runOnce(ctx, db, fn)
	})
	return err
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec runs a single statement, retrying while the database is busy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return retry(ctx, "exec", func() (sql.Result, error) {
		return db.ExecContext(ctx, query, args...)
	})
}

// retry calls op until it succeeds, fails with a non-busy error, or runs
// out of attempts. Backoff doubles from baseBackoff.
func retry[T any](ctx context.Context, what string, op func() (T, error)) (T, error) {
	var zero T
	wait := baseBackoff
	for i := 1; ; i++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("dbopen: %s: %w", what, err)
		}
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !IsBusy(err) {
			return zero, err
		}
		if i == attempts {
			return zero, fmt.Errorf("dbopen: %s: still busy after %d attempts: %w", what, attempts, err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("dbopen: %s: %w", what, ctx.Err())
		case <-t.C:
		}
		wait *= 2
	}
}
