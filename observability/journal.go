package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/atapdf/dbopen"
	"github.com/hazyhaar/atapdf/idgen"
)

// Entry is one finished operation in the journal. Artifacts and
// Transitions are JSON arrays.
type Entry struct {
	EntryID      string    `json:"entry_id"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"` // "completed" or "failed"
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Inputs       int       `json:"inputs"`
	BytesIn      int64     `json:"bytes_in"`
	BytesOut     int64     `json:"bytes_out"`
	Artifacts    string    `json:"artifacts"`
	Transitions  string    `json:"transitions"`
	RequestID    string    `json:"request_id,omitempty"`
	TraceID      string    `json:"trace_id,omitempty"`
}

// Filter controls Query results.
type Filter struct {
	Since    *time.Time
	Until    *time.Time
	Kind     string
	Status   string
	Limit    int    // default 100
	OrderBy  string // "timestamp" or "duration_ms"
	OrderDir string // "ASC" or "DESC"
}

// JournalConfig configures a Journal.
type JournalConfig struct {
	// BufferSize is the async queue length (default: 1000).
	BufferSize int
	// FlushInterval bounds how long a queued entry waits (default: 5s).
	FlushInterval time.Duration
	// BatchSize triggers an early flush (default: 100).
	BatchSize int
	// IDs names entries (default: "opl_" + UUIDv7).
	IDs    idgen.Generator
	Logger *slog.Logger
}

func (c *JournalConfig) defaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("opl_", idgen.Default)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Journal persists operation entries asynchronously.
type Journal struct {
	db     *sql.DB
	cfg    JournalConfig
	logger *slog.Logger
	ch     chan *Entry
	stop   chan struct{}
	done   chan struct{}
}

// NewJournal starts the flush goroutine. The schema must already be applied.
func NewJournal(db *sql.DB, cfg JournalConfig) *Journal {
	cfg.defaults()
	j := &Journal{
		db:     db,
		cfg:    cfg,
		logger: cfg.Logger,
		ch:     make(chan *Entry, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go j.flushLoop()
	return j
}

// Log inserts an entry synchronously.
func (j *Journal) Log(ctx context.Context, e *Entry) error {
	j.fillDefaults(e)
	return j.insert(ctx, j.db, e)
}

// LogAsync queues an entry. A full buffer falls back to a synchronous insert.
func (j *Journal) LogAsync(e *Entry) {
	j.fillDefaults(e)
	select {
	case j.ch <- e:
	default:
		j.logger.Warn("observability journal: buffer full, sync fallback", "kind", e.Kind)
		if err := j.insert(context.Background(), j.db, e); err != nil {
			j.logger.Error("observability journal: sync fallback failed", "error", err)
		}
	}
}

// Query returns entries matching f, newest first by default.
func (j *Journal) Query(ctx context.Context, f *Filter) ([]*Entry, error) {
	q := `SELECT entry_id, timestamp, kind, status, error_code, error_message,
		duration_ms, inputs, bytes_in, bytes_out, artifacts, transitions,
		request_id, trace_id
		FROM operation_log WHERE 1=1`
	var args []any

	if f.Since != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	if f.Until != nil {
		q += " AND timestamp <= ?"
		args = append(args, f.Until.UnixMilli())
	}
	if f.Kind != "" {
		q += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}

	orderBy := "timestamp"
	switch f.OrderBy {
	case "", "timestamp":
	case "duration_ms":
		orderBy = f.OrderBy
	default:
		return nil, fmt.Errorf("invalid order_by column: %q", f.OrderBy)
	}
	orderDir := "DESC"
	switch strings.ToUpper(f.OrderDir) {
	case "":
	case "ASC", "DESC":
		orderDir = strings.ToUpper(f.OrderDir)
	default:
		return nil, fmt.Errorf("invalid order_dir: %q", f.OrderDir)
	}
	q += fmt.Sprintf(" ORDER BY %s %s", orderBy, orderDir)

	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var errorCode, errorMessage, requestID, traceID sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(
			&e.EntryID, &ts, &e.Kind, &e.Status, &errorCode, &errorMessage,
			&durationMs, &e.Inputs, &e.BytesIn, &e.BytesOut, &e.Artifacts, &e.Transitions,
			&requestID, &traceID,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.ErrorCode = errorCode.String
		e.ErrorMessage = errorMessage.String
		e.DurationMs = durationMs.Int64
		e.RequestID = requestID.String
		e.TraceID = traceID.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than retention.
func (j *Journal) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := dbopen.Exec(ctx, j.db, "DELETE FROM operation_log WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup journal: %w", err)
	}
	return res.RowsAffected()
}

// Heartbeat returns the latest heartbeat of service from the journal's
// database, or nil when none was written yet.
func (j *Journal) Heartbeat(ctx context.Context, service string, staleAfter time.Duration) (*HeartbeatStatus, error) {
	return LatestHeartbeat(ctx, j.db, service, staleAfter)
}

// Close drains the queue and stops the flush goroutine.
func (j *Journal) Close() error {
	close(j.stop)
	<-j.done
	return nil
}

func (j *Journal) fillDefaults(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = j.cfg.IDs()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Status == "" {
		if e.ErrorCode != "" {
			e.Status = "failed"
		} else {
			e.Status = "completed"
		}
	}
	if e.Artifacts == "" {
		e.Artifacts = "[]"
	}
	if e.Transitions == "" {
		e.Transitions = "[]"
	}
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()
	batch := make([]*Entry, 0, j.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := dbopen.RunTx(ctx, j.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if err := j.insert(ctx, tx, e); err != nil {
					j.logger.Error("observability journal: insert", "error", err, "entry_id", e.EntryID)
				}
			}
			return nil
		})
		if err != nil {
			j.logger.Error("observability journal: flush", "error", err, "dropped", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-j.stop:
			for {
				select {
				case e := <-j.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= j.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (j *Journal) insert(ctx context.Context, db execer, e *Entry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO operation_log
		(entry_id, timestamp, kind, status, error_code, error_message,
		 duration_ms, inputs, bytes_in, bytes_out, artifacts, transitions,
		 request_id, trace_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.UnixMilli(), e.Kind, e.Status, e.ErrorCode, e.ErrorMessage,
		e.DurationMs, e.Inputs, e.BytesIn, e.BytesOut, e.Artifacts, e.Transitions,
		e.RequestID, e.TraceID)
	return err
}
