// Package observability keeps an optional SQLite journal of the service:
// one row per finished operation and periodic heartbeats with runtime and
// artifact-store counters.
//
// The journal is a separate database from anything the service serves.
// Persistence is async and never applies backpressure to requests: a full
// buffer falls back to a synchronous insert, and insert failures are logged
// and dropped.
package observability

import "database/sql"

// Schema contains the DDL for the journal tables. All statements are
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS operation_log (
    entry_id      TEXT PRIMARY KEY,
    timestamp     INTEGER NOT NULL,
    kind          TEXT NOT NULL,
    status        TEXT NOT NULL,
    error_code    TEXT,
    error_message TEXT,
    duration_ms   INTEGER,
    inputs        INTEGER NOT NULL DEFAULT 0,
    bytes_in      INTEGER NOT NULL DEFAULT 0,
    bytes_out     INTEGER NOT NULL DEFAULT 0,
    artifacts     TEXT NOT NULL DEFAULT '[]',
    transitions   TEXT NOT NULL DEFAULT '[]',
    request_id    TEXT,
    trace_id      TEXT,
    created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_operation_timestamp ON operation_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_operation_kind ON operation_log(kind, status);

CREATE TABLE IF NOT EXISTS service_heartbeats (
    heartbeat_id        TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    service_name        TEXT NOT NULL,
    hostname            TEXT NOT NULL,
    pid                 INTEGER NOT NULL,
    timestamp           INTEGER NOT NULL,
    goroutines_count    INTEGER,
    memory_alloc_mb     REAL,
    artifacts_pending   INTEGER,
    artifacts_downloaded INTEGER,
    created_at          INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_service_time
    ON service_heartbeats(service_name, timestamp DESC);
`

// Init applies the journal schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
