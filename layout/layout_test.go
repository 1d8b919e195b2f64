package layout

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

// mono is a fixed-pitch measurer: every rune is half the font size wide.
func mono(s string, size float64) float64 {
	return float64(utf8.RuneCountInString(s)) * size * 0.5
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if o.PageWidth != 595 || o.PageHeight != 842 || o.Margin != 50 {
		t.Fatalf("geometry = %vx%v margin %v, want 595x842 margin 50", o.PageWidth, o.PageHeight, o.Margin)
	}
	if o.MaxWidth() != 495 {
		t.Errorf("MaxWidth = %v, want 495", o.MaxWidth())
	}
	if math.Abs(o.LineSpacing()-16.8) > 1e-9 {
		t.Errorf("LineSpacing = %v, want 16.8", o.LineSpacing())
	}
}

func TestLayout_ShortParagraphSingleLine(t *testing.T) {
	// WHAT: A paragraph narrower than maxWidth produces exactly one line.
	// WHY: Wrapping must not split text that fits.
	res := Layout("Hello layout engine", mono, DefaultOptions())
	if len(res.Lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(res.Lines))
	}
	ln := res.Lines[0]
	if ln.Page != 0 || ln.X != 50 || ln.Y != 792 || ln.Size != 12 {
		t.Errorf("line = %+v, want page 0 at (50,792) size 12", ln)
	}
	if ln.Text != "Hello layout engine" {
		t.Errorf("text = %q", ln.Text)
	}
	if res.Pages != 1 {
		t.Errorf("pages = %d, want 1", res.Pages)
	}
}

func TestLayout_WrapsWithinMaxWidth(t *testing.T) {
	// WHAT: Long paragraphs wrap and no line exceeds maxWidth.
	// WHY: Overflowing lines would be clipped by the right margin.
	text := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	opts := DefaultOptions()
	res := Layout(text, mono, opts)
	if len(res.Lines) < 2 {
		t.Fatalf("lines = %d, want wrapping", len(res.Lines))
	}
	for i, ln := range res.Lines {
		if w := mono(ln.Text, ln.Size); w > opts.MaxWidth() {
			t.Errorf("line %d width %v > %v: %q", i, w, opts.MaxWidth(), ln.Text)
		}
	}
	// Every word survives wrapping in order.
	var got []string
	for _, ln := range res.Lines {
		got = append(got, ln.Text)
	}
	if strings.Join(got, " ") != strings.TrimSpace(text) {
		t.Error("wrapped text does not round-trip to the input words")
	}
}

func TestLayout_PageBreakExactlyWhenSpaceRunsOut(t *testing.T) {
	// WHAT: Line N+1 starts a new page exactly when the space left after line N is below one line height.
	// WHY: Page breaks must be deterministic for pagination tests and downstream page counts.
	opts := DefaultOptions()
	text := strings.Repeat("word ", 3000)
	res := Layout(text, mono, opts)
	if res.Pages < 2 {
		t.Fatalf("pages = %d, want > 1", res.Pages)
	}
	lh := opts.LineSpacing()
	for i := 0; i+1 < len(res.Lines); i++ {
		cur, next := res.Lines[i], res.Lines[i+1]
		remaining := (cur.Y - lh) - opts.Margin
		wantBreak := remaining < lh
		gotBreak := next.Page == cur.Page+1
		if wantBreak != gotBreak {
			t.Fatalf("line %d->%d: remaining %.2f, break=%v, want %v", i, i+1, remaining, gotBreak, wantBreak)
		}
		if gotBreak && next.Y != opts.PageHeight-opts.Margin {
			t.Fatalf("line %d on new page at y=%v, want %v", i+1, next.Y, opts.PageHeight-opts.Margin)
		}
	}
	last := res.Lines[len(res.Lines)-1]
	if last.Page != res.Pages-1 {
		t.Errorf("last line page = %d, pages = %d", last.Page, res.Pages)
	}
}

func TestLayout_ParagraphSpacing(t *testing.T) {
	// WHAT: Consecutive paragraphs are separated by half a line height, none before the first.
	// WHY: Paragraph boundaries must stay visible after conversion.
	opts := DefaultOptions()
	res := Layout("first\n\n\nsecond\nthird", mono, opts)
	if len(res.Lines) != 3 {
		t.Fatalf("lines = %d, want 3 (blank paragraphs dropped)", len(res.Lines))
	}
	lh := opts.LineSpacing()
	if res.Lines[0].Y != opts.PageHeight-opts.Margin {
		t.Errorf("first y = %v", res.Lines[0].Y)
	}
	for i := 1; i < 3; i++ {
		gap := res.Lines[i-1].Y - res.Lines[i].Y
		if math.Abs(gap-1.5*lh) > 1e-9 {
			t.Errorf("gap %d = %v, want %v", i, gap, 1.5*lh)
		}
	}
}

func TestLayout_ThreeThousandCharsPaginate(t *testing.T) {
	// WHAT: ~3000 characters of short lines without blank lines spill onto several pages.
	// WHY: Mirrors a typical one-sentence-per-line DOCX export.
	var sb strings.Builder
	for sb.Len() < 3000 {
		sb.WriteString("This line of text is exactly fifty characters..\n")
	}
	opts := DefaultOptions()
	res := Layout(sb.String(), mono, opts)
	if res.Pages <= 1 {
		t.Fatalf("pages = %d, want > 1", res.Pages)
	}
	for _, ln := range res.Lines {
		if mono(ln.Text, ln.Size) > opts.MaxWidth() {
			t.Fatalf("line too wide: %q", ln.Text)
		}
	}
	if len(res.PageNumbers) != res.Pages {
		t.Errorf("page numbers = %d, want %d", len(res.PageNumbers), res.Pages)
	}
}

func TestLayout_LongWordIsBroken(t *testing.T) {
	// WHAT: A single word wider than the line is cut at rune boundaries.
	// WHY: Keeps the maxWidth invariant for URLs and hashes.
	opts := DefaultOptions()
	word := strings.Repeat("x", 200) // 200 * 6pt = 1200pt
	res := Layout("a "+word+" b", mono, opts)
	var joined strings.Builder
	for _, ln := range res.Lines {
		if mono(ln.Text, ln.Size) > opts.MaxWidth() {
			t.Fatalf("line too wide: %d runes", utf8.RuneCountInString(ln.Text))
		}
		joined.WriteString(ln.Text)
	}
	if strings.Count(joined.String(), "x") != 200 {
		t.Error("characters lost while breaking the word")
	}
	if res.Lines[0].Text != "a" {
		t.Errorf("first line = %q, want %q", res.Lines[0].Text, "a")
	}
}

func TestLayout_EmptyText(t *testing.T) {
	res := Layout(" \n\t\n ", mono, DefaultOptions())
	if len(res.Lines) != 0 {
		t.Errorf("lines = %d, want 0", len(res.Lines))
	}
	if res.Pages != 1 {
		t.Errorf("pages = %d, want 1", res.Pages)
	}
}

func TestLayout_Restartable(t *testing.T) {
	text := strings.Repeat("alpha beta gamma\n", 100)
	a := Layout(text, mono, DefaultOptions())
	b := Layout(text, mono, DefaultOptions())
	if len(a.Lines) != len(b.Lines) || a.Pages != b.Pages {
		t.Fatal("two identical calls produced different layouts")
	}
	for i := range a.Lines {
		if a.Lines[i] != b.Lines[i] {
			t.Fatalf("line %d differs", i)
		}
	}
}

func TestPageNumbers(t *testing.T) {
	// WHAT: Labels are right-aligned at the margin, 10pt, 10pt below the bottom margin.
	opts := DefaultOptions()
	nums := PageNumbers(12, mono, opts)
	if len(nums) != 12 {
		t.Fatalf("labels = %d", len(nums))
	}
	for i, n := range nums {
		if n.Page != i || n.Size != 10 || n.Y != 40 {
			t.Errorf("label %d = %+v", i, n)
		}
		right := n.X + mono(n.Text, n.Size)
		if math.Abs(right-(opts.PageWidth-opts.Margin)) > 1e-9 {
			t.Errorf("label %q right edge %v, want %v", n.Text, right, opts.PageWidth-opts.Margin)
		}
	}
	if nums[11].Text != "12" {
		t.Errorf("last label = %q", nums[11].Text)
	}
}

func TestParagraphs(t *testing.T) {
	ps := Paragraphs("  one  two \r\n\r\nthree\rfour")
	if len(ps) != 3 {
		t.Fatalf("paragraphs = %d, want 3", len(ps))
	}
	if strings.Join(ps[0].Words, "|") != "one|two" {
		t.Errorf("words = %v", ps[0].Words)
	}
}
