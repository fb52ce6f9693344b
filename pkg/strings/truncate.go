// Package strings holds helpers for displaying text that arrives from the
// authorization server.
package strings

import (
	"strings"
)

const (
	// MaxErrorCodeLen bounds an OAuth error code taken from a callback URL.
	MaxErrorCodeLen = 64

	// MaxErrorDescriptionLen bounds an error_description taken from a
	// callback URL before it reaches a terminal or an HTML page.
	MaxErrorDescriptionLen = 200

	// MinTruncateLen leaves room for one character plus "...".
	MinTruncateLen = 4
)

// SingleLine collapses all whitespace in s to single spaces and truncates the
// result to maxLen runes, ending in "..." when cut. maxLen is clamped to
// MinTruncateLen.
func SingleLine(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
