package textutil

import (
	"strings"
	"unicode"
)

// PaperFileName returns a file name stem for an arXiv paper revision.
// Old-style identifiers such as hep-th/9901001 keep their archive prefix
// with the slash replaced by an underscore.
func PaperFileName(id, revision string) string {
	stem := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r == '.' || r == '-' || r == '_':
			return r
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		}
		return -1
	}, strings.TrimSpace(id)+strings.TrimSpace(revision))
	stem = strings.TrimLeft(stem, ".")
	if stem == "" {
		return "unknown"
	}
	return stem
}

// Slug lowercases value for use in a directory name. Runs of anything other
// than ASCII letters, digits, and '-' collapse to a single underscore.
// Returns "unknown" for empty input.
func Slug(value string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
