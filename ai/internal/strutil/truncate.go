// Package strutil holds small string helpers for log output.
package strutil

import "strings"

// PreviewLen is the default length of a logged prompt preview.
const PreviewLen = 80

// Truncate cuts s to at most maxLen runes, appending "..." when it cut anything.
// It never splits a multi-byte character.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// Preview collapses whitespace and truncates s to PreviewLen runes, for logging
// learner prompts on one line.
func Preview(s string) string {
	return Truncate(strings.Join(strings.Fields(s), " "), PreviewLen)
}
