// CLAUDE:SUMMARY Operation handlers: pure functions from input bytes and typed parameters to output artifacts and metrics.
// CLAUDE:DEPENDS codec, layout
// CLAUDE:EXPORTS Input, Output, Result, Run
package ops

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hazyhaar/atapdf/codec"
	"github.com/hazyhaar/atapdf/layout"
)

// Input is one staged upload handed to a handler.
type Input struct {
	Name string
	MIME string
	Data []byte
}

// Output is one produced artifact, not yet stored. Page is the 1-based
// source page for split outputs and 0 otherwise.
type Output struct {
	Data   []byte
	Format Format
	Page   int
}

// Result is what a successful handler returns.
type Result struct {
	Outputs []Output `json:"-"`

	// compress
	OriginalSize     int64   `json:"original_size,omitempty"`
	CompressedSize   int64   `json:"compressed_size,omitempty"`
	CompressionRatio float64 `json:"compression_ratio,omitempty"` // percent saved, one decimal

	// conversions: pages extracted (pdf-to-word) or generated (word-to-pdf)
	Pages   int            `json:"pages,omitempty"`
	Quality *codec.Quality `json:"quality,omitempty"`
	// NeedsOCR marks a pdf-to-word source whose text layer looks scanned.
	NeedsOCR bool `json:"needs_ocr,omitempty"`
}

// Run executes op on inputs. Inputs must already be validated. Failures
// are reported as *Error, except cancellation which returns ctx.Err().
func Run(ctx context.Context, op Operation, inputs []Input) (*Result, error) {
	switch op := op.(type) {
	case Merge:
		return merge(ctx, inputs)
	case Split:
		return split(ctx, inputs[0])
	case Compress:
		return compress(inputs[0])
	case Watermark:
		return watermark(inputs[0], op.Spec)
	case Unlock:
		return unlock(inputs[0], op.Password)
	case PDFToWord:
		return pdfToWord(inputs[0])
	case WordToPDF:
		return wordToPDF(inputs[0], op.Layout)
	default:
		return nil, fmt.Errorf("unsupported operation %T", op)
	}
}

func merge(ctx context.Context, inputs []Input) (*Result, error) {
	docs := make([]*codec.Document, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := codec.Load(in.Data, "")
		if err != nil {
			return nil, codecError(KindMerge, in.Name, err)
		}
		docs = append(docs, doc)
	}
	out, err := codec.Merge(docs)
	if err != nil {
		return nil, codecError(KindMerge, "", err)
	}
	return &Result{Outputs: []Output{{Data: out, Format: FormatPDF}}}, nil
}

func split(ctx context.Context, in Input) (*Result, error) {
	doc, err := codec.Load(in.Data, "")
	if err != nil {
		return nil, codecError(KindSplit, in.Name, err)
	}
	res := &Result{Pages: doc.PageCount()}
	for n := 1; n <= doc.PageCount(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := doc.ExtractPage(n)
		if err != nil {
			return nil, codecError(KindSplit, in.Name, err)
		}
		res.Outputs = append(res.Outputs, Output{Data: page, Format: FormatPDF, Page: n})
	}
	return res, nil
}

func compress(in Input) (*Result, error) {
	doc, err := codec.Load(in.Data, "")
	if err != nil {
		return nil, codecError(KindCompress, in.Name, err)
	}
	out, err := doc.Optimize()
	if err != nil {
		return nil, codecError(KindCompress, in.Name, err)
	}
	return &Result{
		Outputs:          []Output{{Data: out, Format: FormatPDF}},
		OriginalSize:     int64(len(in.Data)),
		CompressedSize:   int64(len(out)),
		CompressionRatio: savedPercent(len(in.Data), len(out)),
	}, nil
}

// savedPercent is (original - compressed) / original as a percentage with
// one decimal. It is negative when the rewrite grew the file.
func savedPercent(original, compressed int) float64 {
	if original == 0 {
		return 0
	}
	p := float64(original-compressed) / float64(original) * 100
	return math.Round(p*10) / 10
}

func watermark(in Input, spec WatermarkSpec) (*Result, error) {
	doc, err := codec.Load(in.Data, "")
	if err != nil {
		return nil, codecError(KindWatermark, in.Name, err)
	}
	sizes, err := doc.PageSizes()
	if err != nil {
		return nil, codecError(KindWatermark, in.Name, err)
	}
	out, err := doc.Stamp(PlanWatermark(spec, sizes))
	if err != nil {
		return nil, codecError(KindWatermark, in.Name, err)
	}
	return &Result{Outputs: []Output{{Data: out, Format: FormatPDF}}}, nil
}

func unlock(in Input, password string) (*Result, error) {
	doc, err := codec.Load(in.Data, password)
	if err != nil {
		return nil, codecError(KindUnlock, in.Name, err)
	}
	out, err := doc.Decrypt()
	if err != nil {
		return nil, codecError(KindUnlock, in.Name, err)
	}
	return &Result{Outputs: []Output{{Data: out, Format: FormatPDF}}}, nil
}

func pdfToWord(in Input) (*Result, error) {
	doc, err := codec.Load(in.Data, "")
	if err != nil {
		return nil, codecError(KindPDFToWord, in.Name, err)
	}
	text, quality, err := doc.Text()
	if err != nil {
		return nil, codecError(KindPDFToWord, in.Name, err)
	}
	out, err := codec.WriteDocx(withSpacers(TextParagraphs(text)))
	if err != nil {
		return nil, codecError(KindPDFToWord, in.Name, err)
	}
	return &Result{
		Outputs: []Output{{Data: out, Format: FormatDocx}},
		Pages:    doc.PageCount(),
		Quality:  quality,
		NeedsOCR: quality.NeedsOCR(),
	}, nil
}

// TextParagraphs splits extracted text on blank lines. When the text has no
// blank line at all, every line becomes its own paragraph. Lines inside a
// paragraph are joined with a space.
func TextParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	blocks := strings.Split(text, "\n\n")
	if len(blocks) == 1 {
		blocks = strings.Split(text, "\n")
	}
	for _, b := range blocks {
		lines := strings.Fields(strings.ReplaceAll(b, "\n", " "))
		if len(lines) == 0 {
			continue
		}
		out = append(out, strings.Join(lines, " "))
	}
	return out
}

// withSpacers interleaves an empty paragraph between consecutive paragraphs.
func withSpacers(paragraphs []string) []string {
	out := make([]string, 0, 2*len(paragraphs))
	for i, p := range paragraphs {
		if i > 0 {
			out = append(out, "")
		}
		out = append(out, p)
	}
	return out
}

func wordToPDF(in Input, opts layout.Options) (*Result, error) {
	text, err := codec.ReadDocxText(in.Data)
	if err != nil {
		return nil, codecError(KindWordToPDF, in.Name, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Code: CodeEmptyContent, Kind: KindWordToPDF, Message: "document contains no text"}
	}
	out, res, err := typeset(text, opts)
	if err != nil {
		return nil, codecError(KindWordToPDF, in.Name, err)
	}
	if len(res.Lines) == 0 {
		return nil, &Error{Code: CodeEmptyContent, Kind: KindWordToPDF, Message: "document contains no text"}
	}
	return &Result{
		Outputs: []Output{{Data: out, Format: FormatPDF}},
		Pages:   res.Pages,
	}, nil
}

// bodyFont is used for converted text and page numbers.
const bodyFont = codec.TimesRoman

// typeset lays text out with the body font and renders it onto fresh pages,
// page numbers in gray.
func typeset(text string, opts layout.Options) ([]byte, layout.Result, error) {
	opts = opts.WithDefaults()
	res := layout.Layout(text, codec.Measure(bodyFont), opts)

	runs := make([]codec.TextRun, 0, len(res.Lines)+len(res.PageNumbers))
	for _, ln := range res.Lines {
		runs = append(runs, codec.TextRun{Page: ln.Page, Text: ln.Text, X: ln.X, Y: ln.Y, Size: ln.Size, Font: bodyFont, Color: codec.Black})
	}
	for _, pn := range res.PageNumbers {
		runs = append(runs, codec.TextRun{Page: pn.Page, Text: pn.Text, X: pn.X, Y: pn.Y, Size: pn.Size, Font: bodyFont, Color: codec.Gray})
	}
	out, err := codec.Typeset(res.Pages, opts.PageWidth, opts.PageHeight, runs)
	if err != nil {
		return nil, res, err
	}
	return out, res, nil
}
