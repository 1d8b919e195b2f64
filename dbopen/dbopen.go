// CLAUDE:SUMMARY Opens the SQLite operations journal: pragmas travel in the DSN so every pooled connection gets them.
// CLAUDE:EXPORTS Open, OpenMemory, Option, WithBusyTimeout, WithSynchronous, WithMkdirAll, WithSchema, IsBusy, RunTx, Exec
//
// Package dbopen opens the journal database.
//
// Every connection the pool creates runs:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Transactions start IMMEDIATE so two writers never both hold a read lock
// and deadlock on upgrade.
//
//	db, err := dbopen.Open("data/journal.db", dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite" // "sqlite" driver
)

type options struct {
	busyMS   int
	syncMode string
	mkdir    bool
	schema   []string
}

// Option adjusts Open.
type Option func(*options)

// WithBusyTimeout sets how long a connection waits on a lock, in milliseconds.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyMS = ms } }

// WithSynchronous sets the synchronous pragma (OFF, NORMAL, FULL, EXTRA).
func WithSynchronous(mode string) Option {
	return func(o *options) { o.syncMode = strings.ToUpper(mode) }
}

// WithMkdirAll creates the database's parent directory.
func WithMkdirAll() Option { return func(o *options) { o.mkdir = true } }

// WithSchema runs DDL once the database is open. Statements must be idempotent.
func WithSchema(ddl string) Option { return func(o *options) { o.schema = append(o.schema, ddl) } }

// dsn builds the modernc DSN carrying the pragmas as _pragma parameters.
func (o *options) dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", o.busyMS))
	q.Add("_pragma", fmt.Sprintf("synchronous(%s)", o.syncMode))
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyMS: 10_000, syncMode: "NORMAL"}
	for _, fn := range opts {
		fn(&o)
	}
	switch o.syncMode {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return nil, fmt.Errorf("dbopen: synchronous %q not supported", o.syncMode)
	}

	if o.mkdir && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: create dir for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", o.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	// Ping forces the first connection so a bad path or pragma fails here.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: connect %s: %w", path, err)
	}
	for i, ddl := range o.schema {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema #%d: %w", i+1, err)
		}
	}
	return db, nil
}

// OpenMemory returns a private in-memory database closed at test cleanup.
// The pool is pinned to one connection since each ":memory:" connection is
// its own database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
