package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingleLine(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short unchanged", "invalid_grant", 20, "invalid_grant"},
		{"exact length", "hello", 5, "hello"},
		{"truncated", "the user denied the request", 15, "the user den..."},
		{"newlines flattened", "line one\r\nline two", 40, "line one line two"},
		{"tabs and runs collapsed", "  a\t\tb   c  ", 40, "a b c"},
		{"unicode by rune", "héllo wörld", 8, "héllo..."},
		{"clamped max", "abcdefgh", 1, "a..."},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SingleLine(tt.input, tt.maxLen))
		})
	}
}
