package strutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"empty", "", 10, ""},
		{"short", "irony", 10, "irony"},
		{"exact", "irony", 5, "irony"},
		{"cut", "dramatic irony", 8, "dramatic..."},
		{"zero max", "irony", 0, ""},
		{"negative max", "irony", -1, ""},
		{"accented", "naïveté and hubris", 7, "naïveté..."},
		{"curly quotes", "“Call me Ishmael.”", 5, "“Call..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.input, tt.maxLen))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "what is a motif?", Preview("  what  is\na motif?\t"))

	long := strings.Repeat("word ", 40)
	got := Preview(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, PreviewLen+3, len([]rune(got)))
}
