package strings

import (
	"strings"
)

// DefaultCellMaxLen is the default maximum length for free-text cells in
// formatted report output.
const DefaultCellMaxLen = 60

// MinTruncateLen is the smallest useful maxLen: one character plus "...".
const MinTruncateLen = 4

// Truncate flattens a string to a single line and caps it at maxLen runes,
// appending "..." when content was cut. Newlines and runs of whitespace
// collapse to single spaces so error messages render cleanly in tables.
func Truncate(s string, maxLen int) string {
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
