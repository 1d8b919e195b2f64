// CLAUDE:SUMMARY pdfcpu-backed handle on an existing PDF: load with password, page geometry, page extraction, merge, optimize, decrypt, text stamps.
// CLAUDE:DEPENDS codec/errors.go
// CLAUDE:EXPORTS Document, Load, Merge, PageSize, Stamp
package codec

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Document is a loaded PDF. It is owned by a single operation and must not be
// shared between goroutines.
type Document struct {
	raw      []byte
	password string
	ctx      *model.Context
}

// PageSize is the media box of a page in points.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func newConfig(password string) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if password != "" {
		conf.UserPW = password
		conf.OwnerPW = password
	}
	return conf
}

// Load parses and validates a PDF. An empty password opens unencrypted
// documents and documents protected by an owner password only.
func Load(data []byte, password string) (*Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	ctx, err := api.ReadContext(bytes.NewReader(data), newConfig(password))
	if err != nil {
		return nil, classifyLoad(err, password)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, classifyLoad(err, password)
	}
	return &Document{raw: data, password: password, ctx: ctx}, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return d.ctx.PageCount }

// Encrypted reports whether the source file carries an encryption dictionary.
func (d *Document) Encrypted() bool { return d.ctx.Encrypt != nil }

// Bytes returns the bytes the document was loaded from.
func (d *Document) Bytes() []byte { return d.raw }

// PageSizes returns the media box of every page, in page order.
func (d *Document) PageSizes() ([]PageSize, error) {
	dims, err := d.ctx.PageDims()
	if err != nil {
		return nil, fmt.Errorf("page dims: %w", err)
	}
	out := make([]PageSize, len(dims))
	for i, dim := range dims {
		out[i] = PageSize{Width: dim.Width, Height: dim.Height}
	}
	return out, nil
}

func (d *Document) reader() io.ReadSeeker { return bytes.NewReader(d.raw) }

// ExtractPage returns a standalone one-page document holding page n
// (1-based). Page objects are copied, content streams are not re-encoded.
func (d *Document) ExtractPage(n int) ([]byte, error) {
	if n < 1 || n > d.PageCount() {
		return nil, fmt.Errorf("page %d out of range 1..%d", n, d.PageCount())
	}
	var buf bytes.Buffer
	if err := api.Trim(d.reader(), &buf, []string{strconv.Itoa(n)}, newConfig(d.password)); err != nil {
		return nil, fmt.Errorf("extract page %d: %w", n, err)
	}
	return buf.Bytes(), nil
}

// Merge concatenates the pages of docs, in order, into one document.
func Merge(docs []*Document) ([]byte, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("merge: no documents")
	}
	rsc := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		rsc[i] = d.reader()
	}
	var buf bytes.Buffer
	if err := api.MergeRaw(rsc, &buf, false, newConfig("")); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return buf.Bytes(), nil
}

// Optimize rewrites the document with duplicate objects removed, object
// streams and a compressed cross-reference stream.
func (d *Document) Optimize() ([]byte, error) {
	conf := newConfig(d.password)
	conf.WriteObjectStream = true
	conf.WriteXRefStream = true
	var buf bytes.Buffer
	if err := api.Optimize(d.reader(), &buf, conf); err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt returns the document serialized without its encryption
// dictionary, which also drops owner permission flags. Unencrypted
// documents are rewritten unchanged in content.
func (d *Document) Decrypt() ([]byte, error) {
	var buf bytes.Buffer
	if !d.Encrypted() {
		if err := api.Optimize(d.reader(), &buf, newConfig("")); err != nil {
			return nil, fmt.Errorf("rewrite: %w", err)
		}
		return buf.Bytes(), nil
	}
	if err := api.Decrypt(d.reader(), &buf, newConfig(d.password)); err != nil {
		return nil, classifyLoad(err, d.password)
	}
	return buf.Bytes(), nil
}

// Stamp is a text watermark placed on one page. X and Y locate the baseline
// origin in points. Size is drawn at PointSize(Size).
type Stamp struct {
	Page    int // 1-based
	Text    string
	X, Y    float64
	Size    float64
	Font    StandardFont
	Color   Color
	Opacity float64
}

func (s Stamp) face() StandardFont {
	if s.Font == "" {
		return Helvetica
	}
	return s.Font
}

// description renders the pdfcpu watermark description for the stamp text
// starting at x. pdfcpu sets the baseline one descent above the offset and
// scales the whole point size, so the offset is lowered by that descent.
func (s Stamp) description(x float64) string {
	size := PointSize(s.Size)
	y := s.Y - descent(s.face(), size)
	return fmt.Sprintf("fontname:%s, points:%d, position:bl, offset:%s %s, scalefactor:1 abs, rotation:0, opacity:%.2f, fillcolor:%s",
		s.face(), size, coord(x), coord(y), s.Opacity, s.Color.hex())
}

func coord(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// Stamp draws every stamp on top of the page content. Stamps sharing text
// and placement are applied in one pass over their pages.
func (d *Document) Stamp(stamps []Stamp) ([]byte, error) {
	type group struct {
		text, desc string
		pages      []string
	}
	var groups []*group
	index := map[string]*group{}
	for _, s := range stamps {
		if s.Page < 1 || s.Page > d.PageCount() {
			return nil, fmt.Errorf("stamp page %d out of range 1..%d", s.Page, d.PageCount())
		}
		measure := Measure(s.face())
		x := s.X
		for _, piece := range textPieces(s.Text) {
			text, desc := escapePercent(piece), s.description(x)
			x += measure(piece, s.Size)
			key := text + "\x00" + desc
			g, ok := index[key]
			if !ok {
				g = &group{text: text, desc: desc}
				index[key] = g
				groups = append(groups, g)
			}
			g.pages = append(g.pages, strconv.Itoa(s.Page))
		}
	}

	cur := d.raw
	for _, g := range groups {
		wm, err := api.TextWatermark(g.text, g.desc, true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("watermark %q: %w", g.desc, err)
		}
		var buf bytes.Buffer
		if err := api.AddWatermarks(bytes.NewReader(cur), &buf, g.pages, wm, newConfig(d.password)); err != nil {
			return nil, fmt.Errorf("apply watermark: %w", err)
		}
		cur = buf.Bytes()
	}
	return cur, nil
}
