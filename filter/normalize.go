package filter

import (
	"regexp"
	"strings"
	"unicode"
)

// Normalize lower-cases content, folds full-width ASCII punctuation and
// letters to their half-width forms, and strips all whitespace. Term
// matching and fingerprinting both run against this form so spacing and
// width tricks do not evade either.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r == 0x3000: // ideographic space
			continue
		case r >= 0xFF01 && r <= 0xFF5E:
			r -= 0xFEE0
		}
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// urlPattern matches URL-like tokens: explicit schemes, www-prefixed
// hosts, and bare hosts on common TLDs.
var urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\b[a-z0-9][a-z0-9-]*\.(?:com|net|org|io|cn|co|me|tv|xyz)\b\S*)`)

// CountURLs counts URL-like tokens in the raw (non-normalized) content.
func CountURLs(s string) int {
	return len(urlPattern.FindAllString(s, -1))
}
