package pipeline

import (
	"github.com/hazyhaar/atapdf/layout"
	"github.com/hazyhaar/atapdf/ops"
)

// Params carries the loosely typed parameters of an HTTP form or a tool
// call. Only the fields of the requested kind are read.
type Params struct {
	Text     string `json:"text,omitempty"`
	Opacity  string `json:"opacity,omitempty"`
	Position string `json:"position,omitempty"`
	Password string `json:"password,omitempty"`
}

// BuildOperation turns a kind and its raw parameters into a typed
// Operation. Malformed parameters are validation errors.
func BuildOperation(kind ops.Kind, p Params, page layout.Options) (ops.Operation, error) {
	switch kind {
	case ops.KindMerge:
		return ops.Merge{}, nil
	case ops.KindSplit:
		return ops.Split{}, nil
	case ops.KindCompress:
		return ops.Compress{}, nil
	case ops.KindWatermark:
		spec, err := ops.ParseWatermarkSpec(p.Text, p.Opacity, p.Position)
		if err != nil {
			return nil, err
		}
		return ops.Watermark{Spec: spec}, nil
	case ops.KindUnlock:
		op := ops.Unlock{Password: p.Password}
		if err := op.Validate(); err != nil {
			return nil, err
		}
		return op, nil
	case ops.KindPDFToWord:
		return ops.PDFToWord{}, nil
	case ops.KindWordToPDF:
		return ops.WordToPDF{Layout: page.WithDefaults()}, nil
	default:
		return nil, ops.Validationf(kind, "unknown operation %q", kind)
	}
}
