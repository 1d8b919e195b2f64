// CLAUDE:SUMMARY Extraction quality scoring: chars per page, printable and word-like ratios, scanned-document heuristic.
// CLAUDE:EXPORTS Quality, NeedsOCR
package codec

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Quality captures metrics about a PDF text extraction.
type Quality struct {
	PageCount      int     `json:"page_count"`
	CharsPerPage   float64 `json:"chars_per_page"`
	PrintableRatio float64 `json:"printable_ratio"`
	WordlikeRatio  float64 `json:"wordlike_ratio"`
}

// NeedsOCR reports whether the text layer is too thin or too garbled to be
// trusted, which usually means a scanned document.
func (q *Quality) NeedsOCR() bool {
	return q.CharsPerPage < 50 || q.PrintableRatio < 0.85
}

func measureQuality(text string, pages int) *Quality {
	q := &Quality{
		PageCount:      pages,
		PrintableRatio: printableRatio(text),
		WordlikeRatio:  wordlikeRatio(text),
	}
	if pages > 0 {
		q.CharsPerPage = float64(utf8.RuneCountInString(text)) / float64(pages)
	}
	return q
}

// printableRatio returns the ratio of printable characters in text.
// Excludes PUA U+E000-U+F8FF, control chars < U+0020 (except \n\r\t), U+FFFD.
func printableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	switch {
	case r >= 0xE000 && r <= 0xF8FF:
		return true
	case r == utf8.RuneError:
		return true
	case r < 0x0020 && r != '\n' && r != '\r' && r != '\t':
		return true
	}
	return false
}

// wordlikeRatio returns the ratio of word-like tokens (length 2-15) to total tokens.
func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		if n := utf8.RuneCountInString(f); n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}
