package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/atapdf/horosafe"
	"github.com/hazyhaar/atapdf/kit"
	"github.com/hazyhaar/atapdf/lifecycle"
	"github.com/hazyhaar/atapdf/ops"
)

// RegisterMCP registers one atapdf_<kind> tool per operation kind plus
// atapdf_save, which copies an artifact out of the store.
func (d *Dispatcher) RegisterMCP(srv *mcp.Server) {
	for _, k := range ops.Kinds() {
		d.registerOperationTool(srv, k)
	}
	d.registerSaveTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// ToolName is the MCP tool name of kind.
func ToolName(k ops.Kind) string {
	return "atapdf_" + strings.ReplaceAll(string(k), "-", "_")
}

var toolDescriptions = map[ops.Kind]string{
	ops.KindMerge:     "Merge two or more PDF files into one, pages in the given order.",
	ops.KindSplit:     "Split a PDF into one single-page PDF per page.",
	ops.KindCompress:  "Rewrite a PDF with object deduplication and stream compression.",
	ops.KindWatermark: "Stamp a text watermark on every page of a PDF.",
	ops.KindUnlock:    "Remove the password of an encrypted PDF.",
	ops.KindPDFToWord: "Extract the text of a PDF into a DOCX document.",
	ops.KindWordToPDF: "Typeset the text of a DOCX document into a paginated PDF.",
}

// --- operations ---

type operationReq struct {
	Paths    []string `json:"paths"`
	Text     string   `json:"text,omitempty"`
	Opacity  *float64 `json:"opacity,omitempty"`
	Position string   `json:"position,omitempty"`
	Password string   `json:"password,omitempty"`
}

type operationResp struct {
	ID        string        `json:"id"`
	Kind      ops.Kind      `json:"kind"`
	Artifacts []ArtifactRef `json:"artifacts"`
	Result    *ops.Result   `json:"result,omitempty"`
}

func (d *Dispatcher) registerOperationTool(srv *mcp.Server, kind ops.Kind) {
	props := map[string]any{
		"paths": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": fmt.Sprintf("Input %s files", kind.Input()),
		},
	}
	required := []string{"paths"}
	switch kind {
	case ops.KindWatermark:
		props["text"] = map[string]any{"type": "string", "description": "Watermark text"}
		props["opacity"] = map[string]any{"type": "number", "description": "Opacity between 0 and 1 (default 0.3)"}
		props["position"] = map[string]any{
			"type":        "string",
			"enum":        []string{"center", "top-left", "top-right", "bottom-left", "bottom-right"},
			"description": "Stamp position (default center)",
		}
		required = append(required, "text")
	case ops.KindUnlock:
		props["password"] = map[string]any{"type": "string", "description": "Document password"}
		required = append(required, "password")
	}
	tool := &mcp.Tool{
		Name:        ToolName(kind),
		Description: toolDescriptions[kind],
		InputSchema: inputSchema(props, required),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*operationReq)
		p := Params{Text: r.Text, Position: r.Position, Password: r.Password}
		if r.Opacity != nil {
			p.Opacity = strconv.FormatFloat(*r.Opacity, 'f', -1, 64)
		}
		op, err := BuildOperation(kind, p, d.cfg.Layout)
		if err != nil {
			return nil, toolError(err)
		}
		staged, err := d.stagePaths(r.Paths)
		if err != nil {
			return nil, err
		}
		out, err := d.Dispatch(ctx, Request{Operation: op, Uploads: staged})
		if err != nil {
			return nil, toolError(err)
		}
		return &operationResp{ID: out.ID, Kind: out.Kind, Artifacts: out.Artifacts, Result: out.Result}, nil
	}

	ep := kit.Chain(kit.WithLogging(d.logger, tool.Name))(endpoint)
	kit.RegisterMCPTool[operationReq](srv, tool, ep)
}

// toolError keeps the code and the caller-safe message of an operation failure.
func toolError(err error) error {
	return fmt.Errorf("%s: %s", ops.CodeOf(err), ops.MessageOf(err))
}

// resolvePath confines p to ToolRoot when one is configured.
func (d *Dispatcher) resolvePath(p string) (string, error) {
	if d.cfg.ToolRoot == "" {
		return filepath.Clean(p), nil
	}
	return horosafe.SafePath(d.cfg.ToolRoot, p)
}

// stagePaths copies local files into the upload area. On failure the files
// staged so far are released.
func (d *Dispatcher) stagePaths(paths []string) ([]*lifecycle.Staged, error) {
	staged := make([]*lifecycle.Staged, 0, len(paths))
	fail := func(err error) ([]*lifecycle.Staged, error) {
		d.release(staged)
		return nil, err
	}
	for _, p := range paths {
		path, err := d.resolvePath(p)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", p, err))
		}
		f, err := os.Open(path)
		if err != nil {
			return fail(fmt.Errorf("open %s: %w", p, err))
		}
		s, err := d.store.Stage(f, filepath.Base(path), "", d.cfg.MaxFileBytes)
		f.Close()
		if err != nil {
			return fail(fmt.Errorf("stage %s: %w", p, err))
		}
		staged = append(staged, s)
	}
	return staged, nil
}

// --- save ---

type saveReq struct {
	Filename string `json:"filename"`
	Dest     string `json:"dest"`
}

type saveResp struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

func (d *Dispatcher) registerSaveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "atapdf_save",
		Description: "Copy a produced artifact to a local path. The artifact is reclaimed shortly after.",
		InputSchema: inputSchema(map[string]any{
			"filename": map[string]any{"type": "string", "description": "Artifact file name returned by an operation"},
			"dest":     map[string]any{"type": "string", "description": "Destination file path"},
		}, []string{"filename", "dest"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*saveReq)
		dest, err := d.resolvePath(r.Dest)
		if err != nil {
			return nil, err
		}
		return d.save(r.Filename, dest)
	}

	ep := kit.Chain(kit.WithLogging(d.logger, tool.Name))(endpoint)
	kit.RegisterMCPTool[saveReq](srv, tool, ep)
}

func (d *Dispatcher) save(name, dest string) (*saveResp, error) {
	dl, err := d.store.Open(name)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			return nil, fmt.Errorf("artifact %q not found", name)
		}
		return nil, err
	}
	defer dl.Close()

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dest, err)
	}
	n, err := io.Copy(f, dl)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("write %s: %w", dest, err)
	}
	return &saveResp{Path: dest, Size: n}, nil
}
