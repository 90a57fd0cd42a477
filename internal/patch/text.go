// Package patch applies content changes to file text: strict unified
// diffs and ordered line-range replacements. Everything here is pure; no
// I/O happens inside this package, so callers can test patch mechanics
// without a remote.
package patch

import "strings"

// splitLines breaks text into lines without their newline bytes and
// reports whether the text ended with a newline. Empty text has zero
// lines.
func splitLines(text string) (lines []string, trailingNewline bool) {
	if text == "" {
		return nil, false
	}
	trailingNewline = strings.HasSuffix(text, "\n")
	if trailingNewline {
		text = text[:len(text)-1]
	}
	return strings.Split(text, "\n"), trailingNewline
}

// joinLines is the inverse of splitLines.
func joinLines(lines []string, trailingNewline bool) string {
	if len(lines) == 0 {
		return ""
	}
	joined := strings.Join(lines, "\n")
	if trailingNewline {
		joined += "\n"
	}
	return joined
}

// clip shortens a line for error messages.
func clip(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
