package textutil

import (
	"strings"
	"unicode/utf8"
)

const charsPerToken = 4

// ApproxTokens estimates the token count of text.
func ApproxTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

// TruncateTokens shortens text to about maxTokens tokens. A non-positive
// limit leaves text unchanged.
func TruncateTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	return TruncateRunes(text, maxTokens*charsPerToken)
}

// TruncateRunes shortens text to at most limit runes without splitting a
// UTF-8 sequence. A non-positive limit leaves text unchanged.
func TruncateRunes(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}

// NormalizeSpace collapses runs of whitespace into single spaces.
func NormalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
