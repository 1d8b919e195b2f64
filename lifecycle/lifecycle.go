// CLAUDE:SUMMARY Artifact lifecycle manager: staged uploads deleted exactly once, generated artifacts reclaimed after a post-download grace period or an absolute TTL.
// CLAUDE:DEPENDS idgen, horosafe
// CLAUDE:EXPORTS Manager, Config, Staged, Artifact, Download, Stats, ErrNotFound, ErrClosed, ErrTooLarge
//
// Package lifecycle owns every file the service writes. Staged uploads live
// under <root>/uploads and are removed as soon as the operation that
// consumed them returns. Artifacts live under <root>/artifacts and are
// removed by a grace timer after download, or by the TTL sweep if nobody
// downloads them. Nothing is deleted while a download is still reading it.
//
// Usage:
//
//	m, err := lifecycle.New(lifecycle.Config{Root: "data"})
//	go m.Run(ctx)
//	up, _ := m.Stage(r, "in.pdf", "application/pdf", 10<<20)
//	defer up.Release()
//	art, _ := m.Register("merge", "pdf", out)
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hazyhaar/atapdf/idgen"
)

var (
	// ErrNotFound is returned for unknown, expired or not yet complete artifacts.
	ErrNotFound = errors.New("lifecycle: artifact not found")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("lifecycle: manager closed")
	// ErrTooLarge is returned when an upload exceeds its byte limit.
	ErrTooLarge = errors.New("lifecycle: upload too large")
)

// Config configures a Manager.
type Config struct {
	// Root is the storage directory (default: "data").
	Root string `json:"root" yaml:"root"`

	// GracePeriod is how long an artifact survives after its download starts (default: 10s).
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`

	// TTL reclaims artifacts that are never downloaded (default: 1h).
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// SweepInterval is the period of the TTL sweep run by Run (default: 30s).
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// UploadIDs names staged uploads (default: "up_" + 16-char NanoID).
	UploadIDs idgen.Generator `json:"-" yaml:"-"`

	// Now is the clock (default: time.Now).
	Now func() time.Time `json:"-" yaml:"-"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Root == "" {
		c.Root = "data"
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 10 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.UploadIDs == nil {
		c.UploadIDs = idgen.Prefixed("up_", idgen.NanoID(16))
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager tracks staged uploads and artifacts on disk. It is safe for
// concurrent use.
type Manager struct {
	cfg          Config
	logger       *slog.Logger
	uploadsDir   string
	artifactsDir string

	mu         sync.Mutex
	artifacts  map[string]*artifact
	lastMillis int64
	closed     bool
}

type artifact struct {
	name         string
	path         string
	size         int64
	created      time.Time
	downloadedAt time.Time // zero while pending
	readers      int
	ready        bool // false while the bytes are still being written
	timer        *time.Timer
}

// Artifact describes a stored output.
type Artifact struct {
	Name       string    `json:"filename"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	Downloaded bool      `json:"downloaded"`
}

func (a *artifact) info() Artifact {
	return Artifact{Name: a.name, Size: a.size, CreatedAt: a.created, Downloaded: !a.downloadedAt.IsZero()}
}

// New creates the storage directories and returns a Manager. Call Recover
// before serving to reclaim files left by a previous process.
func New(cfg Config) (*Manager, error) {
	cfg.defaults()
	m := &Manager{
		cfg:          cfg,
		logger:       cfg.Logger,
		uploadsDir:   filepath.Join(cfg.Root, "uploads"),
		artifactsDir: filepath.Join(cfg.Root, "artifacts"),
		artifacts:    make(map[string]*artifact),
	}
	for _, dir := range []string{m.uploadsDir, m.artifactsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("lifecycle: create %s: %w", dir, err)
		}
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// removeFile deletes path; a missing file is not an error.
func (m *Manager) removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("lifecycle: remove failed", "path", path, "error", err)
		return err
	}
	m.logger.Debug("lifecycle: removed", "path", path)
	return nil
}

// Stats counts live artifacts.
type Stats struct {
	Pending    int `json:"pending"`
	Downloaded int `json:"downloaded"`
	Reading    int `json:"reading"`
}

// Stats returns the number of live artifacts by state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	for _, a := range m.artifacts {
		if !a.ready {
			continue
		}
		if a.downloadedAt.IsZero() {
			s.Pending++
		} else {
			s.Downloaded++
		}
		if a.readers > 0 {
			s.Reading++
		}
	}
	return s
}

// Close stops grace timers and rejects further staging and registration.
// Files already on disk are left for Recover.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, a := range m.artifacts {
		if a.timer != nil {
			a.timer.Stop()
		}
	}
	return nil
}
