package patch

import "strings"

// Normalize is a best-effort pre-pass for diffs mangled in transit:
// single-line escape-encoded text, markdown code fences, CRLF endings.
// It is opt-in and deliberately conservative so it never rewrites a diff
// that is already valid; strict application stays in ApplyUnified.
func Normalize(diff string) string {
	out := strings.ReplaceAll(diff, "\r\n", "\n")
	out = stripFences(out)

	// A diff with hunks but no real newlines was almost certainly
	// JSON-escaped into one line somewhere along the way.
	if !strings.Contains(out, "\n") && strings.Contains(out, `\n`) {
		out = decodeEscapes(out)
	}

	out = strings.TrimLeft(out, "\n")
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

// stripFences removes a wrapping markdown code fence (``` or ```diff)
// when one encloses the whole text.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	body, ok := strings.CutPrefix(trimmed, "```")
	if !ok {
		return text
	}
	// Drop the info string ("diff", "patch", ...) on the opening fence.
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		// Single-line-encoded fence: the info string runs to the
		// first escape sequence.
		body = strings.TrimPrefix(body, "diff")
		body = strings.TrimPrefix(body, "patch")
	}
	body = strings.TrimSuffix(strings.TrimRight(body, "\n \t"), "```")
	return body
}

// decodeEscapes turns the common JSON escape sequences back into bytes.
func decodeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			// dropped: CR adds nothing after decoding
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}
