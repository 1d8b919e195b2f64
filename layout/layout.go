// CLAUDE:SUMMARY Text layout engine: wraps paragraphs into positioned lines on fixed-size pages and stamps page numbers.
// Package layout turns a flat text stream into a paginated sequence of
// positioned line-draw instructions.
//
// The engine is restartable: it keeps no state between calls, so concurrent
// conversions can share nothing but the Measurer they pass in.
//
// Usage:
//
//	res := layout.Layout(text, codec.Measure(codec.TimesRoman), layout.DefaultOptions())
//	for _, ln := range res.Lines {
//		runs = append(runs, codec.TextRun{Page: ln.Page, Text: ln.Text, X: ln.X, Y: ln.Y, Size: ln.Size})
//	}
package layout

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Measurer returns the advance width of text set at size, in points.
type Measurer func(text string, size float64) float64

// Options holds the page geometry and typography used by Layout.
type Options struct {
	PageWidth  float64 `json:"page_width" yaml:"page_width"`
	PageHeight float64 `json:"page_height" yaml:"page_height"`
	Margin     float64 `json:"margin" yaml:"margin"`
	FontSize   float64 `json:"font_size" yaml:"font_size"`

	// LineHeight is a factor of FontSize (1.4 means 16.8pt for 12pt text).
	LineHeight float64 `json:"line_height" yaml:"line_height"`

	// PageNumberSize is the font size of the page index label.
	PageNumberSize float64 `json:"page_number_size" yaml:"page_number_size"`
	// PageNumberGap is the distance between the label baseline and the bottom margin.
	PageNumberGap float64 `json:"page_number_gap" yaml:"page_number_gap"`
}

// DefaultOptions returns A4 portrait, 50pt margins, 12pt text at 1.4 line height.
func DefaultOptions() Options {
	o := Options{}
	o.defaults()
	return o
}

func (o *Options) defaults() {
	if o.PageWidth <= 0 {
		o.PageWidth = 595
	}
	if o.PageHeight <= 0 {
		o.PageHeight = 842
	}
	if o.Margin <= 0 {
		o.Margin = 50
	}
	if o.FontSize <= 0 {
		o.FontSize = 12
	}
	if o.LineHeight <= 0 {
		o.LineHeight = 1.4
	}
	if o.PageNumberSize <= 0 {
		o.PageNumberSize = 10
	}
	if o.PageNumberGap <= 0 {
		o.PageNumberGap = 10
	}
}

// WithDefaults returns o with every unset field filled in.
func (o Options) WithDefaults() Options {
	o.defaults()
	return o
}

// MaxWidth is the usable line width between the left and right margins.
func (o Options) MaxWidth() float64 { return o.PageWidth - 2*o.Margin }

// LineSpacing is the vertical advance between two lines, in points.
func (o Options) LineSpacing() float64 { return o.FontSize * o.LineHeight }

// Instruction is a positioned text-draw command. Page is 0-indexed.
type Instruction struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
	Size float64 `json:"size"`
}

// Paragraph is an ordered sequence of words, already folded to the output
// character set.
type Paragraph struct {
	Words []string
}

// Result is the output of one Layout call.
type Result struct {
	Lines       []Instruction `json:"lines"`
	PageNumbers []Instruction `json:"page_numbers"`
	Pages       int           `json:"pages"`
}

// Paragraphs splits text on newlines, drops blank paragraphs and folds each
// remaining one before breaking it into words.
func Paragraphs(text string) []Paragraph {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []Paragraph
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		words := strings.Fields(Fold(raw))
		if len(words) == 0 {
			continue
		}
		out = append(out, Paragraph{Words: words})
	}
	return out
}

// Layout wraps text into lines and assigns each line a page and a baseline.
// A page break happens before a line whenever the space left above the
// bottom margin is smaller than one line height. Page number labels are
// computed in a second pass once the page count is known.
func Layout(text string, measure Measurer, opts Options) Result {
	opts.defaults()
	e := &engine{
		opts:    opts,
		measure: measure,
		spacing: opts.LineSpacing(),
		y:       opts.PageHeight - opts.Margin,
		pages:   1,
	}

	for i, p := range Paragraphs(text) {
		if i > 0 {
			e.y -= e.spacing / 2
		}
		for _, line := range e.wrap(p.Words) {
			e.emit(line)
		}
	}

	return Result{
		Lines:       e.lines,
		PageNumbers: PageNumbers(e.pages, measure, opts),
		Pages:       e.pages,
	}
}

// PageNumbers returns one right-aligned "n" label per page, set below the
// bottom margin.
func PageNumbers(pages int, measure Measurer, opts Options) []Instruction {
	opts.defaults()
	out := make([]Instruction, 0, pages)
	for i := 0; i < pages; i++ {
		label := strconv.Itoa(i + 1)
		out = append(out, Instruction{
			Page: i,
			X:    opts.PageWidth - opts.Margin - measure(label, opts.PageNumberSize),
			Y:    opts.Margin - opts.PageNumberGap,
			Text: label,
			Size: opts.PageNumberSize,
		})
	}
	return out
}

type engine struct {
	opts    Options
	measure Measurer
	spacing float64

	page  int
	pages int
	y     float64
	lines []Instruction
}

func (e *engine) width(s string) float64 { return e.measure(s, e.opts.FontSize) }

// wrap greedily packs words into lines no wider than MaxWidth.
func (e *engine) wrap(words []string) []string {
	maxWidth := e.opts.MaxWidth()
	var lines []string
	cur := ""

	for _, w := range words {
		if e.width(w) > maxWidth {
			if cur != "" {
				lines = append(lines, cur)
			}
			pieces := e.breakWord(w, maxWidth)
			lines = append(lines, pieces[:len(pieces)-1]...)
			cur = pieces[len(pieces)-1]
			continue
		}
		if cur == "" {
			cur = w
			continue
		}
		candidate := cur + " " + w
		if e.width(candidate) > maxWidth {
			lines = append(lines, cur)
			cur = w
		} else {
			cur = candidate
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// breakWord cuts a word that cannot fit on a line by itself at rune
// boundaries. Every piece holds at least one rune.
func (e *engine) breakWord(w string, maxWidth float64) []string {
	var pieces []string
	start := 0
	for i := 0; i < len(w); {
		_, size := utf8.DecodeRuneInString(w[i:])
		next := i + size
		if i > start && e.width(w[start:next]) > maxWidth {
			pieces = append(pieces, w[start:i])
			start = i
		}
		i = next
	}
	return append(pieces, w[start:])
}

func (e *engine) emit(text string) {
	if e.y-e.opts.Margin < e.spacing {
		e.page++
		e.pages++
		e.y = e.opts.PageHeight - e.opts.Margin
	}
	e.lines = append(e.lines, Instruction{
		Page: e.page,
		X:    e.opts.Margin,
		Y:    e.y,
		Text: text,
		Size: e.opts.FontSize,
	})
	e.y -= e.spacing
}
