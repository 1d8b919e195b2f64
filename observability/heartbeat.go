package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/hazyhaar/atapdf/dbopen"
)

// StoreCounts is the artifact-store snapshot written with each heartbeat.
type StoreCounts struct {
	Pending    int
	Downloaded int
}

// HeartbeatWriter writes periodic liveness rows with runtime counters and,
// when Counts is set, the number of live artifacts.
type HeartbeatWriter struct {
	db       *sql.DB
	service  string
	hostname string
	pid      int
	interval time.Duration
	counts   func() StoreCounts
	logger   *slog.Logger
}

// NewHeartbeatWriter creates a writer. counts may be nil.
func NewHeartbeatWriter(db *sql.DB, service string, interval time.Duration, counts func() StoreCounts) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HeartbeatWriter{
		db:       db,
		service:  service,
		hostname: hostname,
		pid:      os.Getpid(),
		interval: interval,
		counts:   counts,
		logger:   slog.Default(),
	}
}

// WriteHeartbeat writes one row now.
func (hw *HeartbeatWriter) WriteHeartbeat(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	var c StoreCounts
	if hw.counts != nil {
		c = hw.counts()
	}
	_, err := dbopen.Exec(ctx, hw.db, `
		INSERT INTO service_heartbeats (
			service_name, hostname, pid, timestamp,
			goroutines_count, memory_alloc_mb, artifacts_pending, artifacts_downloaded
		) VALUES (?,?,?,?,?,?,?,?)`,
		hw.service, hw.hostname, hw.pid, time.Now().Unix(),
		runtime.NumGoroutine(), float64(mem.Alloc)/1024/1024, c.Pending, c.Downloaded)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	return nil
}

// Run writes a heartbeat immediately and then every interval until ctx is done.
func (hw *HeartbeatWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()
	for {
		if err := hw.WriteHeartbeat(ctx); err != nil && ctx.Err() == nil {
			hw.logger.Error("heartbeat write failed", "error", err, "service", hw.service)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// HeartbeatStatus is the latest heartbeat of a service.
type HeartbeatStatus struct {
	Service             string    `json:"service"`
	Hostname            string    `json:"hostname"`
	PID                 int       `json:"pid"`
	Timestamp           time.Time `json:"timestamp"`
	GoroutinesCount     int       `json:"goroutines_count"`
	MemoryAllocMB       float64   `json:"memory_alloc_mb"`
	ArtifactsPending    int       `json:"artifacts_pending"`
	ArtifactsDownloaded int       `json:"artifacts_downloaded"`
	Alive               bool      `json:"alive"`
}

// LatestHeartbeat returns the most recent heartbeat of service, or nil if
// none was written. Alive is false once the row is older than staleAfter.
func LatestHeartbeat(ctx context.Context, db *sql.DB, service string, staleAfter time.Duration) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT service_name, hostname, pid, timestamp, goroutines_count,
		       memory_alloc_mb, artifacts_pending, artifacts_downloaded
		FROM service_heartbeats
		WHERE service_name = ?
		ORDER BY timestamp DESC LIMIT 1`, service)

	var hs HeartbeatStatus
	var ts int64
	err := row.Scan(&hs.Service, &hs.Hostname, &hs.PID, &ts, &hs.GoroutinesCount,
		&hs.MemoryAllocMB, &hs.ArtifactsPending, &hs.ArtifactsDownloaded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}
	hs.Timestamp = time.Unix(ts, 0)
	hs.Alive = time.Since(hs.Timestamp) <= staleAfter
	return &hs, nil
}

// CleanupHeartbeats deletes heartbeats older than retention.
func CleanupHeartbeats(ctx context.Context, db *sql.DB, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()
	res, err := dbopen.Exec(ctx, db, "DELETE FROM service_heartbeats WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup heartbeats: %w", err)
	}
	return res.RowsAffected()
}
