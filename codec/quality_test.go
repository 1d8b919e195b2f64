package codec

import (
	"strings"
	"testing"
)

func TestMeasureQuality(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		pages    int
		needsOCR bool
	}{
		{"dense text", strings.Repeat("lorem ipsum dolor ", 20), 1, false},
		{"thin page", "12", 1, true},
		{"garbage", strings.Repeat("\ufffd", 100), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := measureQuality(tt.text, tt.pages)
			if q.NeedsOCR() != tt.needsOCR {
				t.Errorf("NeedsOCR = %v, want %v (%+v)", q.NeedsOCR(), tt.needsOCR, q)
			}
		})
	}
}

func TestWordlikeRatio(t *testing.T) {
	if r := wordlikeRatio("a bb ccc"); r < 0.66 || r > 0.67 {
		t.Errorf("ratio = %v, want 2/3", r)
	}
	if r := wordlikeRatio(""); r != 0 {
		t.Errorf("empty ratio = %v", r)
	}
}
