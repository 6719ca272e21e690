package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString prepares free text for an order row: control characters are
// dropped, runs of whitespace (including line breaks in pasted addresses)
// collapse to one space, and the result is cut to at most maxLen runes so a
// Thai address is never split mid-character. maxLen <= 0 means no limit.
func SanitizeString(input string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(input))
	space := false
	for _, r := range input {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case r == utf8.RuneError || unicode.IsControl(r):
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if maxLen > 0 && utf8.RuneCountInString(out) > maxLen {
		out = strings.TrimRightFunc(string([]rune(out)[:maxLen]), unicode.IsSpace)
	}
	return out
}
