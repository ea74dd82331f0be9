package safety

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxQueryLen caps the query after sanitization. Longer inputs are a
// volume signal, not a legitimate question.
const maxQueryLen = 8192

// Sanitize performs structural sanitization of raw user input: NFKC
// normalization (collapses homoglyph and fullwidth obfuscation), removal
// of control and format characters except newline and tab, and a length
// cap.
func Sanitize(raw string) string {
	normalized := norm.NFKC.String(raw)

	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		b.WriteRune(r)
	}

	out := strings.TrimSpace(b.String())
	if len(out) > maxQueryLen {
		// Cut on a rune boundary so detectors and the embedder never see
		// a split multi-byte sequence.
		cut := maxQueryLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.TrimSpace(out[:cut])
	}
	return out
}

// normalizeForMatch lowercases and collapses whitespace so paraphrase-ish
// spacing tricks do not defeat fragment matching.
func normalizeForMatch(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
