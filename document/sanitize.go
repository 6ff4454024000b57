package document

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// sanitizeText prepares free text for embedding as XML character data: it
// strips C0 control characters other than tab/LF/CR and any code point the
// XML 1.0 grammar forbids outright (spec.md §4.2). encoding/xml.Marshal
// already entity-escapes & < > " ', so this only needs to remove what
// Marshal would otherwise pass through unescaped and SRI's parser rejects.
func sanitizeText(s string) string {
	out, _, err := transform.String(runes.Remove(runes.Predicate(isXMLIllegal)), s)
	if err != nil {
		return stripIllegalFallback(s)
	}
	return out
}

func isXMLIllegal(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	if r < 0x20 {
		return true // other C0 controls
	}
	if r >= 0x7F && r <= 0x84 {
		return true
	}
	if r >= 0x86 && r <= 0x9F {
		return true
	}
	if r == 0xFFFE || r == 0xFFFF {
		return true
	}
	if r == unicode.ReplacementChar {
		return true
	}
	return false
}

func stripIllegalFallback(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !isXMLIllegal(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
