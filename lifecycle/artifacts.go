package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/atapdf/horosafe"
)

// partSuffix marks artifact bytes still being written.
const partSuffix = ".part"

// Register stores data as a new artifact named "{tag}-{unixMillis}.{ext}".
// The millisecond stamp is strictly increasing per manager, so two
// registrations never collide. The artifact becomes resolvable only after
// every byte is on disk; on failure nothing is left behind.
func (m *Manager) Register(tag, ext string, data []byte) (Artifact, error) {
	if err := horosafe.ValidateIdentifier(tag + "." + ext); err != nil {
		return Artifact{}, fmt.Errorf("lifecycle: artifact tag: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Artifact{}, ErrClosed
	}
	a := m.reserveLocked(tag, ext)
	m.mu.Unlock()

	if err := writeAtomic(a.path, data); err != nil {
		m.mu.Lock()
		delete(m.artifacts, a.name)
		m.mu.Unlock()
		return Artifact{}, fmt.Errorf("lifecycle: write %s: %w", a.name, err)
	}

	m.mu.Lock()
	a.size = int64(len(data))
	a.ready = true
	info := a.info()
	m.mu.Unlock()

	m.logger.Debug("lifecycle: registered", "name", a.name, "size", a.size)
	return info, nil
}

// reserveLocked picks the next free name and records a placeholder for it.
func (m *Manager) reserveLocked(tag, ext string) *artifact {
	now := m.cfg.Now()
	ms := now.UnixMilli()
	if ms <= m.lastMillis {
		ms = m.lastMillis + 1
	}
	for {
		name := tag + "-" + strconv.FormatInt(ms, 10) + "." + ext
		path := filepath.Join(m.artifactsDir, name)
		if _, taken := m.artifacts[name]; !taken {
			if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
				m.lastMillis = ms
				a := &artifact{name: name, path: path, created: now}
				m.artifacts[name] = a
				return a
			}
		}
		ms++
	}
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	part := path + partSuffix
	f, err := os.OpenFile(part, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(part)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(part)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return err
	}
	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return err
	}
	return nil
}

func (m *Manager) lookupLocked(name string) (*artifact, error) {
	if horosafe.ValidateIdentifier(name) != nil {
		return nil, ErrNotFound
	}
	a, ok := m.artifacts[name]
	if !ok || !a.ready {
		return nil, ErrNotFound
	}
	return a, nil
}

// Stat returns the metadata of a live artifact.
func (m *Manager) Stat(name string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.lookupLocked(name)
	if err != nil {
		return Artifact{}, err
	}
	return a.info(), nil
}

// Resolve returns the bytes of a live artifact without marking it downloaded.
func (m *Manager) Resolve(name string) ([]byte, error) {
	m.mu.Lock()
	a, err := m.lookupLocked(name)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	a.readers++
	path := a.path
	m.mu.Unlock()

	data, err := os.ReadFile(path)
	m.doneReading(name)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: read %s: %w", name, err)
	}
	return data, nil
}

// Download is an open artifact being served. Close must be called when the
// transfer ends.
type Download struct {
	*os.File
	Info Artifact

	m    *Manager
	name string
}

// Close releases the file and lets the grace timer reclaim the artifact.
func (d *Download) Close() error {
	err := d.File.Close()
	d.m.doneReading(d.name)
	return err
}

var _ io.ReadSeekCloser = (*Download)(nil)

// Open starts a download: the artifact is marked downloaded, its grace
// period starts now, and it is kept on disk until the Download is closed.
func (m *Manager) Open(name string) (*Download, error) {
	m.mu.Lock()
	a, err := m.lookupLocked(name)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	f, err := os.Open(a.path)
	if err != nil {
		m.mu.Unlock()
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lifecycle: open %s: %w", name, err)
	}
	a.readers++
	m.markDownloadedLocked(a)
	info := a.info()
	m.mu.Unlock()

	return &Download{File: f, Info: info, m: m, name: name}, nil
}

// MarkDownloaded starts the grace period of an artifact. Later calls keep
// the first download time.
func (m *Manager) MarkDownloaded(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.lookupLocked(name)
	if err != nil {
		return err
	}
	m.markDownloadedLocked(a)
	return nil
}

func (m *Manager) markDownloadedLocked(a *artifact) {
	if !a.downloadedAt.IsZero() {
		return
	}
	a.downloadedAt = m.cfg.Now()
	if m.closed {
		return
	}
	name := a.name
	a.timer = time.AfterFunc(m.cfg.GracePeriod, func() { m.reclaim(name) })
}

func (m *Manager) doneReading(name string) {
	m.mu.Lock()
	a, ok := m.artifacts[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	a.readers--
	expired := a.readers == 0 && m.expiredLocked(a, m.cfg.Now())
	m.mu.Unlock()
	if expired {
		m.reclaim(name)
	}
}

func (m *Manager) expiredLocked(a *artifact, now time.Time) bool {
	if !a.ready {
		return false
	}
	if !a.downloadedAt.IsZero() && !now.Before(a.downloadedAt.Add(m.cfg.GracePeriod)) {
		return true
	}
	return !now.Before(a.created.Add(m.cfg.TTL))
}

// reclaim deletes the artifact unless a download is still reading it; the
// last reader to finish reclaims it instead.
func (m *Manager) reclaim(name string) {
	m.mu.Lock()
	a, ok := m.artifacts[name]
	if !ok || a.readers > 0 || !a.ready {
		m.mu.Unlock()
		return
	}
	delete(m.artifacts, name)
	if a.timer != nil {
		a.timer.Stop()
	}
	m.mu.Unlock()

	m.removeFile(a.path)
}

// Discard deletes an artifact that must never be served, such as the
// outputs of an operation whose later registrations failed.
func (m *Manager) Discard(name string) error {
	m.mu.Lock()
	a, ok := m.artifacts[name]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.artifacts, name)
	if a.timer != nil {
		a.timer.Stop()
	}
	m.mu.Unlock()
	return m.removeFile(a.path)
}

// Sweep deletes every artifact whose grace period or TTL has elapsed at
// now and that nobody is reading. It returns the number removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var expired []*artifact
	for name, a := range m.artifacts {
		if a.readers == 0 && m.expiredLocked(a, now) {
			expired = append(expired, a)
			delete(m.artifacts, name)
			if a.timer != nil {
				a.timer.Stop()
			}
		}
	}
	m.mu.Unlock()

	for _, a := range expired {
		m.removeFile(a.path)
	}
	if len(expired) > 0 {
		m.logger.Info("lifecycle: sweep", "removed", len(expired))
	}
	return len(expired)
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.cfg.Now())
		}
	}
}

// Recover reclaims what a previous process left behind: staged uploads and
// partial artifacts are deleted, complete artifacts are registered again
// with their modification time so the TTL sweep eventually removes them.
func (m *Manager) Recover() (uploads, artifacts int, err error) {
	entries, err := os.ReadDir(m.uploadsDir)
	if err != nil {
		return 0, 0, fmt.Errorf("lifecycle: recover uploads: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m.removeFile(filepath.Join(m.uploadsDir, e.Name())) == nil {
			uploads++
		}
	}

	entries, err = os.ReadDir(m.artifactsDir)
	if err != nil {
		return uploads, 0, fmt.Errorf("lifecycle: recover artifacts: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(m.artifactsDir, name)
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(name, partSuffix) || horosafe.ValidateIdentifier(name) != nil {
			m.removeFile(path)
			continue
		}
		if _, ok := m.artifacts[name]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		m.artifacts[name] = &artifact{name: name, path: path, size: info.Size(), created: info.ModTime(), ready: true}
		artifacts++
	}
	m.logger.Info("lifecycle: recovered", "uploads_removed", uploads, "artifacts", artifacts)
	return uploads, artifacts, nil
}
