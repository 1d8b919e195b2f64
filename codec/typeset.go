// CLAUDE:SUMMARY Fresh documents from positioned text: runs become pdfcpu JSON text boxes rendered by api.Create, then every page gets the requested media box.
// CLAUDE:DEPENDS codec/pdf.go
// CLAUDE:EXPORTS StandardFont, Color, TextRun, Typeset, Measure, PointSize
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// StandardFont names one of the base-14 Type1 fonts every PDF reader ships.
// Nothing is embedded and only WinAnsi characters can be drawn.
type StandardFont string

const (
	Helvetica  StandardFont = "Helvetica"
	TimesRoman StandardFont = "Times-Roman"
)

// Color is an RGB fill color with components in [0,1].
type Color struct {
	R, G, B float64
}

var (
	Black = Color{}
	Gray  = Color{R: 0.5, G: 0.5, B: 0.5}
)

// hex renders the color as #RRGGBB.
func (c Color) hex() string {
	to := func(v float64) int { return int(math.Round(math.Max(0, math.Min(1, v)) * 255)) }
	return fmt.Sprintf("#%02X%02X%02X", to(c.R), to(c.G), to(c.B))
}

// PointSize is the whole font size text requested at size is drawn with.
// pdfcpu only renders integral sizes, so measuring must use the same value.
func PointSize(size float64) int {
	n := int(math.Round(size))
	if n < 1 {
		return 1
	}
	return n
}

// Measure returns the advance width function of a standard font: the width
// in points of text drawn at PointSize(size).
func Measure(name StandardFont) func(text string, size float64) float64 {
	return func(text string, size float64) float64 {
		return font.TextWidth(model.DecodeUTF8ToByte(text), string(name), PointSize(size))
	}
}

// descent is the distance pdfcpu leaves between the bottom of a text box
// and the baseline of its single line.
func descent(name StandardFont, size int) float64 {
	return math.Ceil(font.Descent(string(name), size))
}

// TextRun is one line of text on a new page. X and Y locate the baseline
// origin in points from the lower-left corner.
// pdfcpu centers boxes at negative coordinates, so runs are kept on the page.
type TextRun struct {
	Page  int // 0-based
	Text  string
	X, Y  float64
	Size  float64
	Font  StandardFont
	Color Color
}

// canvas is the paper pdfcpu lays pages out on. Text boxes are clamped to
// the paper, so it must be at least as large as any requested page.
const canvas = "4A0"

type jsonDoc struct {
	Paper  string               `json:"paper"`
	Origin string               `json:"origin"`
	Pages  map[string]*jsonPage `json:"pages"`
}

type jsonPage struct {
	Content jsonContent `json:"content"`
}

type jsonContent struct {
	Text []jsonText `json:"text"`
}

type jsonText struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Font  jsonFont   `json:"font"`
}

type jsonFont struct {
	Name string `json:"name"`
	Size int    `json:"size"`
	Col  string `json:"col"`
}

// Typeset draws runs onto a new document of pages pages, each width by
// height points.
func Typeset(pages int, width, height float64, runs []TextRun) ([]byte, error) {
	if pages < 1 {
		return nil, fmt.Errorf("typeset: document has no pages")
	}
	limit := types.PaperSize[canvas]
	if width <= 0 || height <= 0 || width > limit.Width || height > limit.Height {
		return nil, fmt.Errorf("typeset: page size %vx%v outside 1..%vx%v", width, height, limit.Width, limit.Height)
	}

	doc := jsonDoc{Paper: canvas, Origin: "LowerLeft", Pages: make(map[string]*jsonPage, pages)}
	for i := 1; i <= pages; i++ {
		doc.Pages[strconv.Itoa(i)] = &jsonPage{}
	}
	for _, r := range runs {
		if r.Page < 0 || r.Page >= pages {
			return nil, fmt.Errorf("typeset: run %q on page %d of %d", r.Text, r.Page, pages)
		}
		name := r.Font
		if name == "" {
			name = Helvetica
		}
		if !font.IsCoreFont(string(name)) {
			return nil, fmt.Errorf("typeset: unsupported font %q", name)
		}
		size := PointSize(r.Size)
		measure := Measure(name)
		x := r.X
		p := doc.Pages[strconv.Itoa(r.Page+1)]
		for _, piece := range textPieces(r.Text) {
			p.Content.Text = append(p.Content.Text, jsonText{
				Value: escapePercent(piece),
				Pos:   [2]float64{math.Max(0, x), math.Max(0, r.Y-descent(name, size))},
				Font:  jsonFont{Name: string(name), Size: size, Col: r.Color.hex()},
			})
			x += measure(piece, float64(size))
		}
	}

	src, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("typeset: encode layout: %w", err)
	}
	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(src), &buf, newConfig("")); err != nil {
		return nil, fmt.Errorf("typeset: %w", err)
	}
	return resize(buf.Bytes(), width, height)
}

// resize sets the media and crop box of every page to width by height.
func resize(raw []byte, width, height float64) ([]byte, error) {
	doc, err := Load(raw, "")
	if err != nil {
		return nil, fmt.Errorf("typeset: reread: %w", err)
	}
	box := types.RectForDim(width, height).Array()
	for i := 1; i <= doc.PageCount(); i++ {
		d, _, _, err := doc.ctx.PageDict(i, false)
		if err != nil {
			return nil, fmt.Errorf("typeset: page %d: %w", i, err)
		}
		d["MediaBox"] = box
		d["CropBox"] = box
	}
	var out bytes.Buffer
	if err := api.WriteContext(doc.ctx, &out); err != nil {
		return nil, fmt.Errorf("typeset: write: %w", err)
	}
	return out.Bytes(), nil
}

// textPieces splits text where pdfcpu would otherwise read it as markup:
// between a '%' and a placeholder letter, and between a backslash and 'n'.
// Control characters become spaces. Every piece is non-empty.
func textPieces(text string) []string {
	text = strings.Map(func(r rune) rune {
		if r < ' ' {
			return ' '
		}
		return r
	}, text)
	var pieces []string
	start := 0
	for i := 0; i+1 < len(text); i++ {
		c, next := text[i], text[i+1]
		if (c == '%' && strings.IndexByte("pPtv", next) >= 0) || (c == '\\' && next == 'n') {
			pieces = append(pieces, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

// escapePercent undoes pdfcpu's placeholder pass, which drops one '%' of
// every run. It assumes no run is followed by a placeholder letter.
func escapePercent(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && (i == 0 || s[i-1] != '%') {
			sb.WriteByte('%')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
