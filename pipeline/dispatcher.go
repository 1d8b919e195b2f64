// CLAUDE:SUMMARY Operation dispatcher: validates a request, runs its handler, registers outputs as artifacts and releases staged uploads on every path.
// CLAUDE:DEPENDS ops, lifecycle, idgen, kit
// CLAUDE:EXPORTS Dispatcher, Config, Request, Outcome, ArtifactRef, Recorder, State
//
// Package pipeline drives one operation through
// Idle → Validating → Executing → Completed | Failed.
//
// Usage:
//
//	d, err := pipeline.New(pipeline.Config{Lifecycle: mgr})
//	out, err := d.Dispatch(ctx, pipeline.Request{Operation: ops.Merge{}, Uploads: staged})
//	for _, a := range out.Artifacts {
//		fmt.Println(a.Name)
//	}
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hazyhaar/atapdf/idgen"
	"github.com/hazyhaar/atapdf/kit"
	"github.com/hazyhaar/atapdf/layout"
	"github.com/hazyhaar/atapdf/lifecycle"
	"github.com/hazyhaar/atapdf/ops"
)

// Recorder receives every finished operation. Implementations must not block.
type Recorder interface {
	Record(ctx context.Context, o *Outcome)
}

// Config configures a Dispatcher.
type Config struct {
	// Lifecycle stores artifacts. Required.
	Lifecycle *lifecycle.Manager

	// Recorder is optional.
	Recorder Recorder

	// MaxFiles caps the inputs of unbounded kinds such as merge (default: 10).
	MaxFiles int

	// MaxFileBytes caps each file staged by the MCP tools (default: 10 MiB).
	MaxFileBytes int64

	// ToolRoot confines the paths MCP tools read and write. Empty means
	// paths are used as given.
	ToolRoot string

	// Layout is the page geometry of word-to-pdf conversions started by
	// the MCP tools.
	Layout layout.Options

	// IDs names operations (default: "op_" + UUIDv7).
	IDs idgen.Generator

	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxFiles <= 0 {
		c.MaxFiles = 10
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 10 << 20
	}
	c.Layout = c.Layout.WithDefaults()
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("op_", idgen.UUIDv7())
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Dispatcher runs operations. It is safe for concurrent use; operations
// share nothing but the lifecycle manager.
type Dispatcher struct {
	cfg    Config
	store  *lifecycle.Manager
	logger *slog.Logger
}

// New returns a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Lifecycle == nil {
		return nil, errors.New("pipeline: lifecycle manager is required")
	}
	cfg.defaults()
	return &Dispatcher{cfg: cfg, store: cfg.Lifecycle, logger: cfg.Logger}, nil
}

// Lifecycle returns the artifact store the dispatcher registers into.
func (d *Dispatcher) Lifecycle() *lifecycle.Manager { return d.store }

// Request is one operation on staged uploads. The dispatcher owns the
// uploads from the moment Dispatch is called and releases every one of them
// before returning.
type Request struct {
	Operation ops.Operation
	Uploads   []*lifecycle.Staged
}

// ArtifactRef is a registered output.
type ArtifactRef struct {
	lifecycle.Artifact
	Page int `json:"page_number,omitempty"`
}

// Outcome describes a finished operation.
type Outcome struct {
	ID          string        `json:"id"`
	Kind        ops.Kind      `json:"kind"`
	State       State         `json:"state"`
	Transitions []Transition  `json:"transitions"`
	Artifacts   []ArtifactRef `json:"artifacts,omitempty"`
	Result      *ops.Result   `json:"result,omitempty"`
	Inputs      int           `json:"inputs"`
	BytesIn     int64         `json:"bytes_in"`
	BytesOut    int64         `json:"bytes_out"`
	Duration    time.Duration `json:"duration"`
	RequestID   string        `json:"request_id,omitempty"`
	TraceID     string        `json:"trace_id,omitempty"`
	RemoteAddr  string        `json:"remote_addr,omitempty"`
	Err         error         `json:"-"`
}

// Dispatch runs req to a terminal state. The returned Outcome is never nil;
// its Err is also returned and carries an ops.Code.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	start := d.cfg.Now()
	m := newMachine(d.cfg.Now)
	out := &Outcome{
		ID:         d.cfg.IDs(),
		Inputs:     len(req.Uploads),
		RequestID:  kit.GetRequestID(ctx),
		TraceID:    kit.GetTraceID(ctx),
		RemoteAddr: kit.GetRemoteAddr(ctx),
	}
	if req.Operation != nil {
		out.Kind = req.Operation.Kind()
	}
	for _, up := range req.Uploads {
		out.BytesIn += up.Size
	}

	defer func() {
		d.release(req.Uploads)
		out.State = m.state
		out.Transitions = m.log
		out.Duration = d.cfg.Now().Sub(start)
		d.finish(ctx, out)
	}()

	m.advance(StateValidating)
	if err := d.validate(req); err != nil {
		m.advance(StateFailed)
		out.Err = err
		return out, err
	}

	m.advance(StateExecuting)
	res, err := d.execute(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = &ops.Error{Code: ops.CodeIO, Kind: out.Kind, Message: "operation cancelled", Err: err}
		}
		m.advance(StateFailed)
		out.Err = err
		return out, err
	}

	refs, err := d.register(out.Kind, res.Outputs)
	if err != nil {
		m.advance(StateFailed)
		out.Err = err
		return out, err
	}
	for _, r := range refs {
		out.BytesOut += r.Size
	}
	out.Artifacts = refs
	out.Result = res
	m.advance(StateCompleted)
	return out, nil
}

// validate checks input count, parameters and input formats without
// reading any upload.
func (d *Dispatcher) validate(req Request) error {
	if req.Operation == nil {
		return ops.Validationf("", "no operation requested")
	}
	kind := req.Operation.Kind()
	n := len(req.Uploads)
	limit := kind.MaxFiles()
	if limit == 0 {
		limit = d.cfg.MaxFiles
	}
	switch {
	case n < kind.MinFiles() && kind.MinFiles() == 1:
		return ops.Validationf(kind, "a file is required")
	case n < kind.MinFiles():
		return ops.Validationf(kind, "at least %d files are required", kind.MinFiles())
	case n > limit && limit == 1:
		return ops.Validationf(kind, "exactly one file is accepted")
	case n > limit:
		return ops.Validationf(kind, "at most %d files are accepted", limit)
	}
	if err := req.Operation.Validate(); err != nil {
		return err
	}
	for _, up := range req.Uploads {
		if !kind.Accepts(up.Name, up.MIME) {
			return ops.Validationf(kind, "%s expects %s files, got %q", kind, kind.Input(), up.Name)
		}
	}
	return nil
}

// execute reads the uploads and runs the handler, converting a panic in a
// codec library into a codec failure.
func (d *Dispatcher) execute(ctx context.Context, req Request) (res *ops.Result, err error) {
	kind := req.Operation.Kind()
	inputs := make([]ops.Input, 0, len(req.Uploads))
	for _, up := range req.Uploads {
		data, err := up.ReadAll()
		if err != nil {
			return nil, ops.IOError(kind, "upload could not be read", err)
		}
		inputs = append(inputs, ops.Input{Name: up.Name, MIME: up.MIME, Data: data})
	}

	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &ops.Error{Code: ops.CodeCodec, Kind: kind, Message: "document could not be processed", Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return ops.Run(ctx, req.Operation, inputs)
}

// register stores every output. Either all outputs become artifacts or
// none does.
func (d *Dispatcher) register(kind ops.Kind, outputs []ops.Output) ([]ArtifactRef, error) {
	refs := make([]ArtifactRef, 0, len(outputs))
	for _, o := range outputs {
		tag := string(kind)
		if o.Page > 0 {
			tag = string(kind) + "-page-" + strconv.Itoa(o.Page)
		}
		a, err := d.store.Register(tag, string(o.Format), o.Data)
		if err != nil {
			for _, r := range refs {
				if derr := d.store.Discard(r.Name); derr != nil && !errors.Is(derr, lifecycle.ErrNotFound) {
					d.logger.Warn("pipeline: discard partial output", "name", r.Name, "error", derr)
				}
			}
			return nil, ops.IOError(kind, "result could not be stored", err)
		}
		refs = append(refs, ArtifactRef{Artifact: a, Page: o.Page})
	}
	return refs, nil
}

func (d *Dispatcher) release(uploads []*lifecycle.Staged) {
	for _, up := range uploads {
		if err := up.Release(); err != nil {
			d.logger.Warn("pipeline: release upload", "path", up.Path, "error", err)
		}
	}
}

func (d *Dispatcher) finish(ctx context.Context, out *Outcome) {
	attrs := []any{
		"id", out.ID,
		"kind", out.Kind,
		"state", out.State,
		"inputs", out.Inputs,
		"artifacts", len(out.Artifacts),
		"duration", out.Duration,
	}
	if out.RemoteAddr != "" {
		attrs = append(attrs, "remote_addr", out.RemoteAddr)
	}
	if out.Result != nil && out.Result.NeedsOCR {
		attrs = append(attrs, "needs_ocr", true)
	}
	if out.Err != nil {
		attrs = append(attrs, "error_code", ops.CodeOf(out.Err), "error", out.Err)
		d.logger.Warn("pipeline: operation failed", attrs...)
	} else {
		d.logger.Info("pipeline: operation completed", attrs...)
	}
	if d.cfg.Recorder != nil {
		d.cfg.Recorder.Record(ctx, out)
	}
}
