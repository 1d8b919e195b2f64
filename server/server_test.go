package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/atapdf/codec"
	"github.com/hazyhaar/atapdf/dbopen"
	"github.com/hazyhaar/atapdf/lifecycle"
	"github.com/hazyhaar/atapdf/observability"
	"github.com/hazyhaar/atapdf/pipeline"
)

func pdfWithPages(t *testing.T, n int) []byte {
	t.Helper()
	runs := make([]codec.TextRun, n)
	for i := range runs {
		runs[i] = codec.TextRun{Page: i, Text: "page " + strconv.Itoa(i+1), X: 50, Y: 792, Size: 12, Font: codec.Helvetica}
	}
	raw, err := codec.Typeset(n, 595, 842, runs)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func pageCount(t *testing.T, raw []byte) int {
	t.Helper()
	doc, err := codec.Load(raw, "")
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	return doc.PageCount()
}

type testServer struct {
	*Server
	store *lifecycle.Manager
	root  string
}

func newTestServer(t *testing.T, mutate func(*Config), opts ...func(*Options)) *testServer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StorageDir = t.TempDir()
	cfg.RateLimit.Requests = 0
	if mutate != nil {
		mutate(cfg)
	}
	m, err := lifecycle.New(lifecycle.Config{Root: cfg.StorageDir, GracePeriod: time.Hour, TTL: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	d, err := pipeline.New(pipeline.Config{Lifecycle: m, MaxFiles: cfg.MaxFiles})
	if err != nil {
		t.Fatal(err)
	}
	o := Options{Dispatcher: d}
	for _, fn := range opts {
		fn(&o)
	}
	s, err := New(cfg, o)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return &testServer{Server: s, store: m, root: cfg.StorageDir}
}

type upload struct {
	field, name, mime string
	data              []byte
}

func pdfUpload(field, name string, data []byte) upload {
	return upload{field: field, name: name, mime: "application/pdf", data: data}
}

func multipartBody(t *testing.T, files []upload, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.mime)
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) post(t *testing.T, path string, files []upload, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(t *testing.T, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (ts *testServer) assertNoUploads(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(ts.root, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staged uploads left behind: %d", len(entries))
	}
}

func TestMerge_EndToEnd(t *testing.T) {
	// WHAT: merging a 2-page and a 3-page PDF returns a download URL for a 5-page PDF.
	// WHY: the whole chain (streamed staging, dispatch, download) must agree on names.
	ts := newTestServer(t, nil)
	rec := ts.post(t, "/api/merge", []upload{
		pdfUpload("files", "a.pdf", pdfWithPages(t, 2)),
		pdfUpload("files", "b.pdf", pdfWithPages(t, 3)),
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode[operationBody](t, rec)
	if !body.Success || body.Filename == "" || body.DownloadURL != "/download/"+body.Filename {
		t.Fatalf("body = %+v", body)
	}
	if !strings.HasPrefix(body.Filename, "merge-") || !strings.HasSuffix(body.Filename, ".pdf") {
		t.Errorf("filename = %q", body.Filename)
	}
	ts.assertNoUploads(t)

	dl := ts.get(t, body.DownloadURL)
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d", dl.Code)
	}
	if got := pageCount(t, dl.Body.Bytes()); got != 5 {
		t.Errorf("pages = %d, want 5", got)
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, body.Filename) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if ct := dl.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	a, err := ts.store.Stat(body.Filename)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Downloaded {
		t.Error("artifact not marked downloaded")
	}
}

func TestMerge_NeedsTwoFiles(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.post(t, "/api/merge", []upload{pdfUpload("files", "a.pdf", pdfWithPages(t, 1))}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if e := decode[errorBody](t, rec); !strings.Contains(e.Error, "at least 2") {
		t.Errorf("error = %q", e.Error)
	}
	ts.assertNoUploads(t)
}

func TestMerge_TooManyFilesStopsStaging(t *testing.T) {
	// WHAT: the third file of a max_files=2 merge is rejected before it is staged.
	ts := newTestServer(t, func(c *Config) { c.MaxFiles = 2 })
	page := pdfWithPages(t, 1)
	rec := ts.post(t, "/api/merge", []upload{
		pdfUpload("files", "a.pdf", page),
		pdfUpload("files", "b.pdf", page),
		pdfUpload("files", "c.pdf", page),
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	ts.assertNoUploads(t)
}

func TestSplit_ListsPages(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.post(t, "/api/split", []upload{pdfUpload("file", "doc.pdf", pdfWithPages(t, 3))}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode[operationBody](t, rec)
	if len(body.Files) != 3 || body.Filename != "" {
		t.Fatalf("body = %+v", body)
	}
	for i, f := range body.Files {
		if f.PageNumber != i+1 {
			t.Errorf("files[%d].pageNumber = %d", i, f.PageNumber)
		}
		if !strings.HasPrefix(f.Filename, "split-page-"+strconv.Itoa(i+1)+"-") {
			t.Errorf("files[%d].filename = %q", i, f.Filename)
		}
		if got := pageCount(t, ts.get(t, f.DownloadURL).Body.Bytes()); got != 1 {
			t.Errorf("files[%d] pages = %d", i, got)
		}
	}
}

func TestCompress_ReportsSizes(t *testing.T) {
	ts := newTestServer(t, nil)
	in := pdfWithPages(t, 2)
	rec := ts.post(t, "/api/compress", []upload{pdfUpload("file", "doc.pdf", in)}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode[operationBody](t, rec)
	if body.OriginalSize != int64(len(in)) || body.CompressedSize <= 0 || body.CompressionRatio == nil {
		t.Errorf("body = %+v", body)
	}
}

func TestWatermark_MessageIsSanitized(t *testing.T) {
	// WHAT: markup in the watermark text never reaches the JSON message.
	ts := newTestServer(t, nil)
	rec := ts.post(t, "/api/watermark",
		[]upload{pdfUpload("file", "doc.pdf", pdfWithPages(t, 1))},
		map[string]string{"text": "<script>x</script>DRAFT", "opacity": "0.3", "position": "center"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode[operationBody](t, rec)
	if strings.Contains(body.Message, "<script>") || !strings.Contains(body.Message, "DRAFT") {
		t.Errorf("message = %q", body.Message)
	}
}

func TestWatermark_BadOpacity(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.post(t, "/api/watermark",
		[]upload{pdfUpload("file", "doc.pdf", pdfWithPages(t, 1))},
		map[string]string{"text": "DRAFT", "opacity": "1.5"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	ts.assertNoUploads(t)
}

func TestUnlock_Statuses(t *testing.T) {
	conf := model.NewAESConfiguration("secret", "secret-owner", 256)
	var locked bytes.Buffer
	if err := api.Encrypt(bytes.NewReader(pdfWithPages(t, 1)), &locked, conf); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		password string
		want     int
	}{
		{"correct", "secret", http.StatusOK},
		{"wrong", "nope", http.StatusBadRequest},
		{"missing", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			fields := map[string]string{}
			if tt.password != "" {
				fields["password"] = tt.password
			}
			rec := ts.post(t, "/api/unlock", []upload{pdfUpload("file", "locked.pdf", locked.Bytes())}, fields)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			ts.assertNoUploads(t)
			if tt.want != http.StatusOK {
				if n := ts.store.Stats().Pending; n != 0 {
					t.Errorf("artifacts stored on failure: %d", n)
				}
			}
		})
	}
}

func TestUploadFilter_RejectsOtherTypes(t *testing.T) {
	// WHAT: a text file is refused with 400 and nothing is staged.
	ts := newTestServer(t, nil)
	rec := ts.post(t, "/api/compress", []upload{{field: "file", name: "notes.txt", mime: "text/plain", data: []byte("hi")}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	ts.assertNoUploads(t)
}

func TestUpload_WrongTypeForKind(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.post(t, "/api/word-to-pdf", []upload{pdfUpload("file", "doc.pdf", pdfWithPages(t, 1))}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.MaxFileMB = 1 })
	big := bytes.Repeat([]byte("a"), 1<<20+10)
	rec := ts.post(t, "/api/compress", []upload{pdfUpload("file", "big.pdf", big)}, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	ts.assertNoUploads(t)
}

func TestUpload_MalformedPDFIsUnprocessable(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.post(t, "/api/compress", []upload{pdfUpload("file", "bad.pdf", []byte("not a pdf"))}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	ts.assertNoUploads(t)
}

func TestUpload_NotMultipart(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/split", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWordToPDF_EndToEnd(t *testing.T) {
	ts := newTestServer(t, nil)
	docx, err := codec.WriteDocx([]string{"Hello", "", "world"})
	if err != nil {
		t.Fatal(err)
	}
	rec := ts.post(t, "/api/word-to-pdf", []upload{{
		field: "file", name: "in.docx",
		mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		data: docx,
	}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode[operationBody](t, rec)
	if body.Pages != 1 || !strings.HasPrefix(body.Filename, "word-to-pdf-") {
		t.Errorf("body = %+v", body)
	}
}

func TestRoutes_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.post(t, "/api/rotate", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown kind status = %d", rec.Code)
	}
	if rec := ts.get(t, "/download/merge-1.pdf"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown artifact status = %d", rec.Code)
	}
}

func TestDownload_ETag(t *testing.T) {
	// WHAT: a conditional request with the served ETag gets 304.
	ts := newTestServer(t, nil)
	a, err := ts.store.Register("compress", "pdf", pdfWithPages(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	first := ts.get(t, "/download/"+a.Name)
	etag := first.Header().Get("ETag")
	if first.Code != http.StatusOK || len(etag) != 34 {
		t.Fatalf("status = %d, etag = %q", first.Code, etag)
	}
	second := ts.get(t, "/download/"+a.Name, "If-None-Match", etag)
	if second.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d", second.Code)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	if _, err := ts.store.Register("merge", "pdf", []byte("%PDF")); err != nil {
		t.Fatal(err)
	}
	rec := ts.get(t, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		Status    string          `json:"status"`
		Artifacts lifecycle.Stats `json:"artifacts"`
	}](t, rec)
	if body.Status != "OK" || body.Artifacts.Pending != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestRequestID(t *testing.T) {
	// WHAT: a valid incoming X-Request-ID is echoed, anything else is replaced.
	ts := newTestServer(t, nil)
	const id = "0190a5c2-7b1e-7c3d-9f00-112233445566"
	if got := ts.get(t, "/api/health", "X-Request-ID", id).Header().Get("X-Request-ID"); got != id {
		t.Errorf("echoed id = %q", got)
	}
	got := ts.get(t, "/api/health", "X-Request-ID", "<bad>").Header().Get("X-Request-ID")
	if got == "" || got == "<bad>" {
		t.Errorf("replaced id = %q", got)
	}
}

func TestOperations_Journal(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	j := observability.NewJournal(db, observability.JournalConfig{})
	t.Cleanup(func() { j.Close() })
	if err := j.Log(context.Background(), &observability.Entry{Kind: "merge", Status: "completed"}); err != nil {
		t.Fatal(err)
	}

	ts := newTestServer(t, nil, func(o *Options) { o.Journal = j })
	rec := ts.get(t, "/api/operations?kind=merge")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		Operations []observability.Entry `json:"operations"`
	}](t, rec)
	if len(body.Operations) != 1 || body.Operations[0].Kind != "merge" {
		t.Errorf("operations = %+v", body.Operations)
	}

	if rec := ts.get(t, "/api/operations?order_by=bogus"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad order status = %d", rec.Code)
	}
}

func TestHealth_Heartbeat(t *testing.T) {
	// WHAT: with a journal, health reports the latest heartbeat row.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	j := observability.NewJournal(db, observability.JournalConfig{})
	t.Cleanup(func() { j.Close() })
	hw := observability.NewHeartbeatWriter(db, ServiceName, time.Second, func() observability.StoreCounts {
		return observability.StoreCounts{Pending: 3}
	})
	if err := hw.WriteHeartbeat(context.Background()); err != nil {
		t.Fatal(err)
	}

	ts := newTestServer(t, nil, func(o *Options) { o.Journal = j })
	body := decode[struct {
		Heartbeat *observability.HeartbeatStatus `json:"heartbeat"`
	}](t, ts.get(t, "/api/health"))
	if body.Heartbeat == nil || !body.Heartbeat.Alive || body.Heartbeat.ArtifactsPending != 3 {
		t.Errorf("heartbeat = %+v", body.Heartbeat)
	}
}

func TestOperations_Disabled(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.get(t, "/api/operations"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	// WHAT: Serve answers on a real listener and returns cleanly once ctx is cancelled.
	ts := newTestServer(t, func(c *Config) { c.MaxConns = 2 })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- ts.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return")
	}
}
