package http

import (
	"strings"
	"unicode/utf8"
)

const maxLabelLength = 200

// sanitizeInput trims whitespace, drops control characters other than tab
// and newline, and caps the length in runes.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		if r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	if utf8.RuneCountInString(s) > maxLabelLength {
		s = string([]rune(s)[:maxLabelLength])
	}
	return s
}
