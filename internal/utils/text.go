package utils

import (
	"fmt"
	"strings"
)

const maxRawEventLength = 10000

// CleanText strips control characters (except newlines and tabs) from a raw
// camera payload and truncates it for storage.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, text)
	if len(cleaned) > maxRawEventLength {
		cleaned = cleaned[:maxRawEventLength] + "... [truncated]"
	}
	return cleaned
}

// FormatDuration renders minutes as "N min", "N h" or "N h M min".
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	hours := minutes / 60
	rest := minutes % 60
	if rest == 0 {
		return fmt.Sprintf("%d h", hours)
	}
	return fmt.Sprintf("%d h %d min", hours, rest)
}
