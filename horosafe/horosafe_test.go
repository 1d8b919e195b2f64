package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		wantErr     bool
	}{
		{"/srv/docs", "in/a.pdf", false},
		{"/srv/docs", "../etc/passwd", true},
		{"/srv/docs", "abc/../def", false},
		{"/srv/docs", "abc/../../outside", true},
		{"/srv/docs", "report..final.pdf", false},
		{"/srv/docs", "/srv/docs/in/b.pdf", false},
		{"/srv/docs", "/srv/docs-evil/b.pdf", true},
		{"/srv/docs", "/etc/passwd", true},
		{"/srv/docs", "", true},
	}
	for _, tt := range tests {
		got, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
		}
		if err == nil && !strings.HasPrefix(got, tt.base+"/") {
			t.Errorf("SafePath(%q, %q) = %q escapes base", tt.base, tt.input, got)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	if err := ValidateIdentifier("split-page-3-1700000000000.pdf"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"../etc/passwd", "", "has spaces", "..", "a/b", strings.Repeat("a", 257)} {
		if err := ValidateIdentifier(bad); err == nil {
			t.Errorf("ValidateIdentifier(%q): expected error", bad)
		}
	}
}

func TestCleanFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"report.pdf", "report.pdf"},
		{"C:\\Users\\me\\report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"a\x00b\n.pdf", "ab.pdf"},
		{"", "upload"},
		{"dir/", "upload"},
		{"  contrat été.docx ", "contrat été.docx"},
	}
	for _, tt := range tests {
		if got := CleanFilename(tt.in); got != tt.want {
			t.Errorf("CleanFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	long := strings.Repeat("é", 200) // 400 bytes
	if got := CleanFilename(long); len(got) > 255 || !strings.HasPrefix(long, got) {
		t.Errorf("long name cut badly: %d bytes", len(got))
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := strings.Repeat("x", 100)
	got, err := LimitedReadAll(strings.NewReader(data), 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(got))
	}

	_, err = LimitedReadAll(strings.NewReader(data), 50)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}
