// CLAUDE:SUMMARY Closed set of operation kinds with their input format, file-count bounds and typed parameter structs.
// CLAUDE:EXPORTS Kind, Format, Operation, Merge, Split, Compress, Watermark, Unlock, PDFToWord, WordToPDF
package ops

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/atapdf/layout"
)

// Kind identifies an operation.
type Kind string

const (
	KindMerge     Kind = "merge"
	KindSplit     Kind = "split"
	KindCompress  Kind = "compress"
	KindWatermark Kind = "watermark"
	KindUnlock    Kind = "unlock"
	KindPDFToWord Kind = "pdf-to-word"
	KindWordToPDF Kind = "word-to-pdf"
)

// Kinds returns every operation kind.
func Kinds() []Kind {
	return []Kind{KindMerge, KindSplit, KindCompress, KindWatermark, KindUnlock, KindPDFToWord, KindWordToPDF}
}

// ParseKind resolves a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Format is a document type accepted or produced by an operation.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDocx Format = "docx"
)

// MIME types recognised for each format.
const (
	MIMEPDF  = "application/pdf"
	MIMEDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// DetectFormat infers the format of an upload from its declared MIME type,
// falling back to the file extension.
func DetectFormat(name, mime string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mime, ";")[0])) {
	case MIMEPDF:
		return FormatPDF, true
	case MIMEDocx:
		return FormatDocx, true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF, true
	case ".docx":
		return FormatDocx, true
	}
	return "", false
}

// Input returns the format every input file must have.
func (k Kind) Input() Format {
	if k == KindWordToPDF {
		return FormatDocx
	}
	return FormatPDF
}

// Accepts reports whether an upload named name with the declared mime type
// is a valid input. DOCX inputs must carry the .docx extension whatever
// their MIME type says.
func (k Kind) Accepts(name, mime string) bool {
	want := k.Input()
	if want == FormatDocx {
		return strings.EqualFold(filepath.Ext(name), ".docx")
	}
	got, ok := DetectFormat(name, mime)
	return ok && got == want
}

// Output returns the format of the produced artifacts.
func (k Kind) Output() Format {
	if k == KindPDFToWord {
		return FormatDocx
	}
	return FormatPDF
}

// MinFiles is the smallest number of inputs the kind accepts.
func (k Kind) MinFiles() int {
	if k == KindMerge {
		return 2
	}
	return 1
}

// MaxFiles is the largest number of inputs the kind accepts; 0 means no bound.
func (k Kind) MaxFiles() int {
	if k == KindMerge {
		return 0
	}
	return 1
}

// Operation is one requested transformation with its parameters. The set
// of implementations is closed: each kind has exactly one parameter struct.
type Operation interface {
	Kind() Kind
	// Validate checks the parameters, independent of the inputs.
	Validate() error
	operation()
}

type (
	// Merge concatenates two or more PDFs in input order.
	Merge struct{}
	// Split produces one single-page PDF per page.
	Split struct{}
	// Compress rewrites a PDF with object deduplication and stream compression.
	Compress struct{}
	// Watermark stamps text on every page.
	Watermark struct{ Spec WatermarkSpec }
	// Unlock removes the password from a PDF.
	Unlock struct{ Password string }
	// PDFToWord extracts the text of a PDF into a DOCX.
	PDFToWord struct{}
	// WordToPDF typesets the text of a DOCX into a paginated PDF.
	WordToPDF struct{ Layout layout.Options }
)

func (Merge) Kind() Kind     { return KindMerge }
func (Split) Kind() Kind     { return KindSplit }
func (Compress) Kind() Kind  { return KindCompress }
func (Watermark) Kind() Kind { return KindWatermark }
func (Unlock) Kind() Kind    { return KindUnlock }
func (PDFToWord) Kind() Kind { return KindPDFToWord }
func (WordToPDF) Kind() Kind { return KindWordToPDF }

func (Merge) Validate() error     { return nil }
func (Split) Validate() error     { return nil }
func (Compress) Validate() error  { return nil }
func (PDFToWord) Validate() error { return nil }
func (WordToPDF) Validate() error { return nil }

func (w Watermark) Validate() error {
	if err := w.Spec.Validate(); err != nil {
		return Validationf(KindWatermark, "%s", err.Error())
	}
	return nil
}

// Validate rejects only an empty password. Whitespace is part of the password.
func (u Unlock) Validate() error {
	if u.Password == "" {
		return Validationf(KindUnlock, "password is required")
	}
	return nil
}

func (Merge) operation()     {}
func (Split) operation()     {}
func (Compress) operation()  {}
func (Watermark) operation() {}
func (Unlock) operation()    {}
func (PDFToWord) operation() {}
func (WordToPDF) operation() {}
