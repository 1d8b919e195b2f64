package ops

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hazyhaar/atapdf/codec"
)

// Position anchors a watermark on the page.
type Position string

const (
	Center      Position = "center"
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// DefaultOpacity applies when a request leaves the opacity out.
const DefaultOpacity = 0.3

// WatermarkSpec describes the text stamped by a watermark operation.
type WatermarkSpec struct {
	Text     string   `json:"text"`
	Opacity  float64  `json:"opacity"`
	Position Position `json:"position"`
}

// Validate rejects empty text, opacity outside [0,1] and unknown positions.
// An empty position means Center.
func (s WatermarkSpec) Validate() error {
	if strings.TrimSpace(s.Text) == "" {
		return errors.New("watermark text is required")
	}
	if math.IsNaN(s.Opacity) || s.Opacity < 0 || s.Opacity > 1 {
		return fmt.Errorf("opacity must be between 0 and 1, got %v", s.Opacity)
	}
	switch s.Position {
	case "", Center, TopLeft, TopRight, BottomLeft, BottomRight:
		return nil
	}
	return fmt.Errorf("unknown position %q", s.Position)
}

// ParseWatermarkSpec builds a spec from request fields. An empty opacity
// means DefaultOpacity and an empty position means Center.
func ParseWatermarkSpec(text, opacity, position string) (WatermarkSpec, error) {
	spec := WatermarkSpec{Text: text, Opacity: DefaultOpacity, Position: Position(strings.TrimSpace(position))}
	if o := strings.TrimSpace(opacity); o != "" {
		v, err := strconv.ParseFloat(o, 64)
		if err != nil {
			return spec, Validationf(KindWatermark, "opacity must be a number, got %q", o)
		}
		spec.Opacity = v
	}
	if spec.Position == "" {
		spec.Position = Center
	}
	if err := spec.Validate(); err != nil {
		return spec, Validationf(KindWatermark, "%s", err.Error())
	}
	return spec, nil
}

// Watermark geometry.
const (
	watermarkScale  = 0.05 // font size as a fraction of the shorter page side
	cornerInset     = 50
	rightCornerSpan = 150
)

// watermarkFont is the face the stamps are drawn and measured with.
const watermarkFont = codec.Helvetica

var measureWatermark = codec.Measure(watermarkFont)

// Placement computes where the watermark text goes on a page of the given
// size: the baseline origin and the font size. The size is rounded to the
// whole point it is drawn at.
func Placement(spec WatermarkSpec, width, height float64) (x, y, size float64) {
	size = float64(codec.PointSize(math.Min(width, height) * watermarkScale))
	switch spec.Position {
	case TopLeft:
		return cornerInset, height - cornerInset, size
	case TopRight:
		return width - rightCornerSpan, height - cornerInset, size
	case BottomLeft:
		return cornerInset, cornerInset + size, size
	case BottomRight:
		return width - rightCornerSpan, cornerInset + size, size
	default:
		textWidth := measureWatermark(spec.Text, size)
		return (width - textWidth) / 2, height / 2, size
	}
}

// PlanWatermark returns one stamp per page, in page order.
func PlanWatermark(spec WatermarkSpec, pages []codec.PageSize) []codec.Stamp {
	stamps := make([]codec.Stamp, len(pages))
	for i, p := range pages {
		x, y, size := Placement(spec, p.Width, p.Height)
		stamps[i] = codec.Stamp{
			Page:    i + 1,
			Text:    spec.Text,
			X:       x,
			Y:       y,
			Size:    size,
			Font:    watermarkFont,
			Color:   codec.Gray,
			Opacity: spec.Opacity,
		}
	}
	return stamps
}
