package cli

import "strings"

// DefaultCellMaxLen is the widest a free-form value may be in table output.
const DefaultCellMaxLen = 60

// minCellLen leaves room for one character and the ellipsis.
const minCellLen = 4

// TruncateCell collapses whitespace in s to single spaces and cuts it to
// maxLen runes, ending in "..." when shortened. Values below 4 are raised
// to 4.
func TruncateCell(s string, maxLen int) string {
	maxLen = max(maxLen, minCellLen)

	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
