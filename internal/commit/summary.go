package commit

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// maxSummaryLines caps the rendered portion of a diff summary so commit
// results stay small even for large rewrites.
const maxSummaryLines = 60

// summarize renders a compact line diff between two file versions for the
// commit result. It is informational only; verification compares exact
// content.
func summarize(before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lineIndex := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineIndex)

	var added, removed int
	var body []string
	for _, d := range diffs {
		lines := strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n")
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(lines)
			appendPrefixed(&body, "+", lines)
		case diffmatchpatch.DiffDelete:
			removed += len(lines)
			appendPrefixed(&body, "-", lines)
		}
	}

	header := fmt.Sprintf("+%d -%d lines", added, removed)
	if len(body) > maxSummaryLines {
		body = append(body[:maxSummaryLines], "... (summary truncated)")
	}
	return header + "\n" + strings.Join(body, "\n")
}

func appendPrefixed(dst *[]string, prefix string, lines []string) {
	for _, l := range lines {
		if len(*dst) > maxSummaryLines {
			return
		}
		*dst = append(*dst, prefix+l)
	}
}
