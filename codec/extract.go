// CLAUDE:SUMMARY PDF text extraction: ledongthuc/pdf per page, pdfcpu content-stream scan as fallback; keeps line breaks.
// CLAUDE:DEPENDS codec/quality.go
package codec

import (
	"bytes"
	"io"
	"math"
	"regexp"
	"strings"
	"unicode"

	ledongthuc "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

// Text extracts the document text. Pages are separated by a blank line and
// line breaks inside a page are kept, so callers can rebuild paragraphs.
// ErrEmptyText is returned when no page yields any text.
func (d *Document) Text() (string, *Quality, error) {
	var pages []string
	if !d.Encrypted() {
		pages = plainTextPages(d.raw)
	}
	if strings.TrimSpace(strings.Join(pages, "")) == "" {
		pages = d.scanPages()
	}

	var nonEmpty []string
	for _, p := range pages {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	text := strings.Join(nonEmpty, "\n\n")
	q := measureQuality(text, d.PageCount())
	if text == "" {
		return "", q, ErrEmptyText
	}
	return text, q, nil
}

// plainTextPages runs ledongthuc/pdf over every page. The library panics on
// some malformed inputs; a panic yields no pages and the caller falls back.
func plainTextPages(raw []byte) (pages []string) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
		}
	}()
	r, err := ledongthuc.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil
	}
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pages = append(pages, normalizeLines(pageLines(page.Content().Text)))
	}
	return pages
}

// pageLines rebuilds lines from positioned glyphs. A baseline change starts
// a new line; a vertical jump well beyond normal leading leaves a blank line
// so paragraph breaks survive; a horizontal gap between glyphs becomes a space.
// Standard fonts written without a Widths array report zero-width glyphs, and
// gaps after those are not judged.
func pageLines(glyphs []ledongthuc.Text) string {
	var sb strings.Builder
	var prev *ledongthuc.Text
	for i := range glyphs {
		g := &glyphs[i]
		if prev != nil {
			size := math.Max(prev.FontSize, 1)
			dy := prev.Y - g.Y
			switch {
			case math.Abs(dy) > size*0.5:
				sb.WriteByte('\n')
				if dy > size*1.8 {
					sb.WriteByte('\n')
				}
			case prev.W > 0 && g.X-(prev.X+prev.W) > size*0.2 && prev.S != " " && g.S != " ":
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(g.S)
		prev = g
	}
	return sb.String()
}

// scanPages walks each page content stream with pdfcpu and collects the
// operands of text-showing operators.
func (d *Document) scanPages() []string {
	var pages []string
	for pageNr := 1; pageNr <= d.PageCount(); pageNr++ {
		r, err := pdfcpu.ExtractPageContent(d.ctx, pageNr)
		if err != nil || r == nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil || len(data) == 0 {
			continue
		}
		pages = append(pages, scanContentStream(data))
	}
	return pages
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// scanContentStream extracts shown text from a decoded content stream.
// Every positioning operator that moves to a new line starts a new output line.
func scanContentStream(data []byte) string {
	var sb strings.Builder
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			newline()
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")),
			bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("BT")):
			newline()
		}
	}
	return normalizeLines(sb.String())
}

// decodePDFString handles PDF literal string escapes. Bytes are read as
// WinAnsi/Latin-1.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 >= len(raw) {
			sb.WriteRune(rune(c))
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteRune(rune(raw[i]))
				continue
			}
			val := int(raw[i] - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteRune(rune(byte(val)))
		}
	}
	return sb.String()
}

// normalizeLines collapses runs of spaces inside each line, drops
// non-printable runes and keeps blank lines as paragraph separators.
func normalizeLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		var sb strings.Builder
		prevSpace := false
		for _, r := range line {
			switch {
			case unicode.IsSpace(r):
				if !prevSpace && sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				prevSpace = true
			case unicode.IsPrint(r):
				sb.WriteRune(r)
				prevSpace = false
			}
		}
		out = append(out, strings.TrimSpace(sb.String()))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
