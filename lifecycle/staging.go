package lifecycle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Staged is an uploaded file waiting for the operation that consumes it.
// Release must be called exactly once the operation returns; further calls
// are no-ops.
type Staged struct {
	Path string
	Name string // original client file name
	MIME string
	Size int64

	m    *Manager
	once sync.Once
	err  error
}

// Stage copies r into the uploads directory. At most maxBytes are accepted;
// a larger upload is removed and ErrTooLarge returned. maxBytes <= 0 means
// no limit.
func (m *Manager) Stage(r io.Reader, name, mime string, maxBytes int64) (*Staged, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	path := filepath.Join(m.uploadsDir, m.cfg.UploadIDs())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: stage %s: %w", name, err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		m.removeFile(path)
		return nil, fmt.Errorf("lifecycle: stage %s: %w", name, copyErr)
	case closeErr != nil:
		m.removeFile(path)
		return nil, fmt.Errorf("lifecycle: stage %s: %w", name, closeErr)
	case maxBytes > 0 && n > maxBytes:
		m.removeFile(path)
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, name, maxBytes)
	}

	m.logger.Debug("lifecycle: staged", "path", path, "name", name, "size", n)
	return &Staged{Path: path, Name: name, MIME: mime, Size: n, m: m}, nil
}

// ReadAll returns the staged bytes.
func (s *Staged) ReadAll() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: read staged %s: %w", s.Name, err)
	}
	return data, nil
}

// Release deletes the staged file. Only the first call deletes; a file
// already gone is not an error.
func (s *Staged) Release() error {
	s.once.Do(func() {
		s.err = s.m.removeFile(s.Path)
	})
	return s.err
}
