package layout

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTable maps characters the standard Type1 fonts cannot show to their
// closest ASCII spelling. Letters without a canonical decomposition (dotless
// i, eszett, stroked letters) must be listed here; accented letters that do
// decompose are handled by stripMarks.
var foldTable = strings.NewReplacer(
	"İ", "I", "ı", "i",
	"Ğ", "G", "ğ", "g",
	"Ü", "U", "ü", "u",
	"Ş", "S", "ş", "s",
	"Ö", "O", "ö", "o",
	"Ç", "C", "ç", "c",
	"ß", "ss", "Æ", "AE", "æ", "ae", "Œ", "OE", "œ", "oe",
	"Ø", "O", "ø", "o", "Ł", "L", "ł", "l", "Đ", "D", "đ", "d",
	"‘", "'", "’", "'", "‚", "'",
	"“", `"`, "”", `"`, "„", `"`,
	"–", "-", "—", "-", "−", "-",
	"…", "...", "•", "*",
	"\u00a0", " ", "\t", " ",
)

// Fold rewrites s into the character set the output fonts can draw.
func Fold(s string) string {
	s = foldTable.Replace(s)
	if isASCII(s) {
		return s
	}
	// Chain holds per-call state, so it is built for each call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
