package ops

import (
	"math"
	"testing"

	"github.com/hazyhaar/atapdf/codec"
)

func TestWatermarkSpec_Validate(t *testing.T) {
	tests := []struct {
		name string
		spec WatermarkSpec
		ok   bool
	}{
		{"valid", WatermarkSpec{Text: "DRAFT", Opacity: 0.3, Position: Center}, true},
		{"empty position is center", WatermarkSpec{Text: "DRAFT", Opacity: 1}, true},
		{"zero opacity", WatermarkSpec{Text: "DRAFT", Opacity: 0, Position: TopLeft}, true},
		{"blank text", WatermarkSpec{Text: "   ", Opacity: 0.3}, false},
		{"opacity above one", WatermarkSpec{Text: "DRAFT", Opacity: 1.5}, false},
		{"negative opacity", WatermarkSpec{Text: "DRAFT", Opacity: -0.1}, false},
		{"NaN opacity", WatermarkSpec{Text: "DRAFT", Opacity: math.NaN()}, false},
		{"unknown position", WatermarkSpec{Text: "DRAFT", Opacity: 0.3, Position: "middle"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.spec.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestParseWatermarkSpec(t *testing.T) {
	spec, err := ParseWatermarkSpec("DRAFT", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Opacity != DefaultOpacity || spec.Position != Center {
		t.Errorf("defaults = %+v", spec)
	}
	if _, err := ParseWatermarkSpec("DRAFT", "abc", ""); CodeOf(err) != CodeValidation {
		t.Errorf("non-numeric opacity: %v", err)
	}
	if _, err := ParseWatermarkSpec("DRAFT", "2", "center"); CodeOf(err) != CodeValidation {
		t.Errorf("out of range opacity: %v", err)
	}
}

func TestPlacement_CenterA4(t *testing.T) {
	// WHAT: "DRAFT" on 595x842 is centered horizontally using its measured width at min(595,842)*0.05 rounded to 30pt.
	// WHY: Centering must use the glyph widths of the size actually drawn.
	spec := WatermarkSpec{Text: "DRAFT", Opacity: 0.3, Position: Center}
	x, y, size := Placement(spec, 595, 842)
	if size != 30 {
		t.Fatalf("size = %v, want 30", size)
	}
	// D R A F T = 722 + 722 + 667 + 611 + 611 units at 30pt
	width := 3333 * 30 / 1000.0
	if math.Abs(x-(595-width)/2) > 1e-9 {
		t.Errorf("x = %v, want %v", x, (595-width)/2)
	}
	if math.Abs((x+width/2)-595.0/2) > 1e-9 {
		t.Errorf("text midpoint %v is not the page midpoint", x+width/2)
	}
	if y != 421 {
		t.Errorf("y = %v, want 421", y)
	}
}

func TestPlacement_Corners(t *testing.T) {
	const w, h = 595.0, 842.0
	size := 30.0
	tests := []struct {
		pos  Position
		x, y float64
	}{
		{TopLeft, 50, h - 50},
		{TopRight, w - 150, h - 50},
		{BottomLeft, 50, 50 + size},
		{BottomRight, w - 150, 50 + size},
	}
	for _, tt := range tests {
		x, y, _ := Placement(WatermarkSpec{Text: "X", Position: tt.pos}, w, h)
		if x != tt.x || y != tt.y {
			t.Errorf("%s = (%v,%v), want (%v,%v)", tt.pos, x, y, tt.x, tt.y)
		}
	}
}

func TestPlanWatermark_OneStampPerPage(t *testing.T) {
	spec := WatermarkSpec{Text: "COPY", Opacity: 0.5, Position: Center}
	stamps := PlanWatermark(spec, []codec.PageSize{{Width: 595, Height: 842}, {Width: 842, Height: 595}})
	if len(stamps) != 2 {
		t.Fatalf("stamps = %d", len(stamps))
	}
	for i, s := range stamps {
		if s.Page != i+1 || s.Opacity != 0.5 || s.Size != 30 {
			t.Errorf("stamp %d = %+v", i, s)
		}
	}
	if stamps[0].X == stamps[1].X {
		t.Error("landscape page should center differently")
	}
}
