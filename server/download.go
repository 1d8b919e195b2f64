package server

import (
	"encoding/hex"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/atapdf/ops"
)

// contentTypes covers the formats the service produces; the system MIME
// table often lacks DOCX.
var contentTypes = map[string]string{
	".pdf":  ops.MIMEPDF,
	".docx": ops.MIMEDocx,
}

// handleDownload serves an artifact as an attachment. Opening it starts
// the grace period; the file stays on disk until the transfer ends.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	d, err := s.store.Open(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer d.Close()

	etag, err := digest(d)
	if err != nil {
		s.writeError(w, r, ops.IOError("", "file could not be read", err))
		return
	}

	if ct, ok := contentTypes[filepath.Ext(name)]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, name, d.Info.CreatedAt, d)
}

// digest returns a quoted 128-bit BLAKE2b ETag of rs and rewinds it.
func digest(rs io.ReadSeeker) (string, error) {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, rs); err != nil {
		return "", err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`, nil
}
