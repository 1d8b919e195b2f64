package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/atapdf/codec"
	"github.com/hazyhaar/atapdf/horosafe"
	"github.com/hazyhaar/atapdf/lifecycle"
	"github.com/hazyhaar/atapdf/observability"
	"github.com/hazyhaar/atapdf/ops"
	"github.com/hazyhaar/atapdf/pipeline"
	"github.com/hazyhaar/atapdf/shield"
)

// maxFieldBytes caps each non-file form field.
const maxFieldBytes = 64 << 10

type errorBody struct {
	Error string `json:"error"`
}

type fileRef struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadUrl"`
	PageNumber  int    `json:"pageNumber,omitempty"`
}

type operationBody struct {
	Success          bool           `json:"success"`
	Message          string         `json:"message"`
	OperationID      string         `json:"operationId"`
	DownloadURL      string         `json:"downloadUrl,omitempty"`
	Filename         string         `json:"filename,omitempty"`
	Files            []fileRef      `json:"files,omitempty"`
	OriginalSize     int64          `json:"originalSize,omitempty"`
	CompressedSize   int64          `json:"compressedSize,omitempty"`
	CompressionRatio *float64       `json:"compressionRatio,omitempty"`
	Pages            int            `json:"pages,omitempty"`
	Quality          *codec.Quality `json:"quality,omitempty"`
	NeedsOCR         bool           `json:"needsOcr,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// sanitize strips markup from text echoed back to the client.
func (s *Server) sanitize(text string) string {
	return html.UnescapeString(s.policy.Sanitize(text))
}

// statusOf maps a failure onto its HTTP status.
func statusOf(err error) int {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, lifecycle.ErrTooLarge), errors.Is(err, horosafe.ErrTooLarge), errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	}
	switch ops.CodeOf(err) {
	case ops.CodeValidation, ops.CodeWrongPassword, ops.CodeEmptyContent:
		return http.StatusBadRequest
	case ops.CodeCodec:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	var msg string
	switch code {
	case http.StatusRequestEntityTooLarge:
		msg = fmt.Sprintf("file too large (max %d MB)", s.cfg.MaxFileMB)
	case http.StatusNotFound:
		msg = "file not found"
	default:
		msg = ops.MessageOf(err)
	}
	log := shield.GetLogger(r.Context())
	if code >= http.StatusInternalServerError {
		log.Error("server: request failed", "status", code, "error", err)
	} else {
		log.Info("server: request rejected", "status", code, "error", err)
	}
	writeJSON(w, code, errorBody{Error: s.sanitize(msg)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "OK",
		"message":   "atapdf is running",
		"artifacts": s.store.Stats(),
	}
	if s.journal != nil {
		hb, err := s.journal.Heartbeat(r.Context(), ServiceName, 3*s.cfg.HeartbeatEvery)
		if err != nil {
			shield.GetLogger(r.Context()).Warn("health: heartbeat", "error", err)
		} else if hb != nil {
			body["heartbeat"] = hb
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "operations journal is disabled"})
		return
	}
	q := r.URL.Query()
	f := &observability.Filter{
		Kind:     q.Get("kind"),
		Status:   q.Get("status"),
		Limit:    queryInt(r, "limit", 100),
		OrderBy:  q.Get("order_by"),
		OrderDir: q.Get("order_dir"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "since must be an RFC 3339 time"})
			return
		}
		f.Since = &t
	}
	entries, err := s.journal.Query(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: s.sanitize(err.Error())})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": entries})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	s.runOperation(w, r, ops.KindMerge)
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	kind, err := ops.ParseKind(chi.URLParam(r, "kind"))
	if err != nil || kind == ops.KindMerge {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown operation"})
		return
	}
	s.runOperation(w, r, kind)
}

// fileField is the multipart field that carries the inputs of kind.
func fileField(kind ops.Kind) string {
	if kind == ops.KindMerge {
		return "files"
	}
	return "file"
}

func (s *Server) runOperation(w http.ResponseWriter, r *http.Request, kind ops.Kind) {
	uploads, params, err := s.readForm(r, kind)
	if err != nil {
		release(uploads)
		s.writeError(w, r, err)
		return
	}
	op, err := pipeline.BuildOperation(kind, params, s.cfg.Layout)
	if err != nil {
		release(uploads)
		s.writeError(w, r, err)
		return
	}
	out, err := s.dispatcher.Dispatch(r.Context(), pipeline.Request{Operation: op, Uploads: uploads})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.operationBody(op, out))
}

func release(uploads []*lifecycle.Staged) {
	for _, up := range uploads {
		up.Release()
	}
}

// readForm streams the multipart body. Files are staged as they arrive, so
// the body is never buffered in memory. On error the uploads staged so far
// are returned for release.
func (s *Server) readForm(r *http.Request, kind ops.Kind) ([]*lifecycle.Staged, pipeline.Params, error) {
	var (
		uploads []*lifecycle.Staged
		params  pipeline.Params
	)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, params, ops.Validationf(kind, "multipart form data expected")
	}
	limit := kind.MaxFiles()
	if limit == 0 {
		limit = s.cfg.MaxFiles
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return uploads, params, badBody(kind, err)
		}
		if part.FileName() == "" {
			err = readField(part, &params)
			part.Close()
			if err != nil {
				return uploads, params, badBody(kind, err)
			}
			continue
		}

		if part.FormName() != fileField(kind) {
			part.Close()
			return uploads, params, ops.Validationf(kind, "files must be sent in the %q field", fileField(kind))
		}
		if len(uploads) >= limit {
			part.Close()
			if limit == 1 {
				return uploads, params, ops.Validationf(kind, "exactly one file is accepted")
			}
			return uploads, params, ops.Validationf(kind, "at most %d files are accepted", limit)
		}
		up, err := s.stagePart(kind, part)
		part.Close()
		if err != nil {
			return uploads, params, err
		}
		uploads = append(uploads, up)
	}
	return uploads, params, nil
}

// stagePart applies the upload filter and stages an accepted file.
func (s *Server) stagePart(kind ops.Kind, part *multipart.Part) (*lifecycle.Staged, error) {
	name := horosafe.CleanFilename(part.FileName())
	mime := part.Header.Get("Content-Type")
	if _, ok := ops.DetectFormat(name, mime); !ok {
		return nil, ops.Validationf(kind, "only PDF and DOCX files are accepted")
	}
	up, err := s.store.Stage(part, name, mime, s.cfg.MaxFileBytes())
	if err != nil {
		if errors.Is(err, lifecycle.ErrTooLarge) {
			return nil, err
		}
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, err
		}
		return nil, ops.IOError(kind, "upload could not be stored", err)
	}
	return up, nil
}

func readField(part *multipart.Part, p *pipeline.Params) error {
	data, err := horosafe.LimitedReadAll(part, maxFieldBytes)
	if err != nil {
		return err
	}
	v := string(data)
	switch part.FormName() {
	case "text":
		p.Text = v
	case "opacity":
		p.Opacity = v
	case "position":
		p.Position = v
	case "password":
		p.Password = v
	}
	return nil
}

// badBody keeps size errors distinct and reports everything else as a
// malformed form.
func badBody(kind ops.Kind, err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) || errors.Is(err, horosafe.ErrTooLarge) {
		return err
	}
	return &ops.Error{Code: ops.CodeValidation, Kind: kind, Message: "malformed multipart form", Err: err}
}

func downloadURL(name string) string { return "/download/" + name }

func (s *Server) operationBody(op ops.Operation, out *pipeline.Outcome) operationBody {
	body := operationBody{Success: true, OperationID: out.ID}
	res := out.Result
	if len(out.Artifacts) > 0 && op.Kind() != ops.KindSplit {
		body.Filename = out.Artifacts[0].Name
		body.DownloadURL = downloadURL(body.Filename)
	}
	if res != nil {
		body.Pages = res.Pages
		body.Quality = res.Quality
		body.NeedsOCR = res.NeedsOCR
	}

	switch o := op.(type) {
	case ops.Merge:
		body.Message = fmt.Sprintf("%d PDFs merged successfully", out.Inputs)
	case ops.Split:
		for _, a := range out.Artifacts {
			body.Files = append(body.Files, fileRef{Filename: a.Name, DownloadURL: downloadURL(a.Name), PageNumber: a.Page})
		}
		body.Message = fmt.Sprintf("%d separate PDF files created", len(out.Artifacts))
	case ops.Compress:
		body.OriginalSize = res.OriginalSize
		body.CompressedSize = res.CompressedSize
		ratio := res.CompressionRatio
		body.CompressionRatio = &ratio
		body.Message = fmt.Sprintf("PDF compressed successfully (%s%% size reduction)", strconv.FormatFloat(ratio, 'f', 1, 64))
	case ops.Watermark:
		body.Message = fmt.Sprintf("Watermark added: %q", s.sanitize(strings.TrimSpace(o.Spec.Text)))
	case ops.Unlock:
		body.Message = "PDF password removed successfully"
	case ops.PDFToWord:
		body.Message = fmt.Sprintf("PDF converted to Word successfully (%d pages)", res.Pages)
		if res.NeedsOCR {
			body.Message += "; little text was found, the document may be scanned"
		}
	case ops.WordToPDF:
		body.Message = fmt.Sprintf("Word document converted to PDF successfully (%d pages)", res.Pages)
	}
	return body
}
