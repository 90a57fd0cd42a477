package patch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AdaptivMCP/gitward/internal/fault"
)

const noNewlineMarker = `\ No newline at end of file`

type hunkLine struct {
	op   byte // ' ', '-', '+'
	text string
}

type hunk struct {
	header    string
	origStart int
	origCount int
	newStart  int
	newCount  int
	lines     []hunkLine
	// oldNoEOL / newNoEOL mark that the last old/new line of this hunk
	// carries a "no newline at end of file" marker.
	oldNoEOL bool
	newNoEOL bool
}

// ApplyUnified applies a unified diff to original using strict positional
// matching: every context and deletion line must equal the corresponding
// original line exactly. Any mismatch aborts with a patch_does_not_apply
// fault before the caller does any remote write. Malformed diff text is a
// validation fault instead.
func ApplyUnified(original, diff string) (string, error) {
	hunks, err := parseUnified(diff)
	if err != nil {
		return "", err
	}

	lines, trailingNewline := splitLines(original)

	var out []string
	pos := 1 // next original line to consume, 1-based

	for i, h := range hunks {
		start := h.origStart
		if h.origCount == 0 {
			// Pure insertion: origStart names the line the new
			// content goes after.
			start++
		}
		if start < pos {
			return "", fault.New(fault.Validation, "hunk_overlap",
				"hunk #%d (%s) overlaps or precedes the previous hunk", i+1, h.header)
		}
		if start-1 > len(lines) {
			return "", applyFault(i, h, start,
				"file has %d lines, hunk starts at line %d", len(lines), start)
		}

		out = append(out, lines[pos-1:start-1]...)
		pos = start

		for _, hl := range h.lines {
			switch hl.op {
			case ' ':
				if pos > len(lines) {
					return "", applyFault(i, h, pos,
						"context line expected at line %d but file ends at line %d", pos, len(lines))
				}
				if lines[pos-1] != hl.text {
					return "", mismatchFault(i, h, pos, hl.text, lines[pos-1])
				}
				out = append(out, hl.text)
				pos++
			case '-':
				if pos > len(lines) {
					return "", applyFault(i, h, pos,
						"deletion expected at line %d but file ends at line %d", pos, len(lines))
				}
				if lines[pos-1] != hl.text {
					return "", mismatchFault(i, h, pos, hl.text, lines[pos-1])
				}
				pos++
			case '+':
				out = append(out, hl.text)
			}
		}

		if h.oldNoEOL {
			// The diff says the old file's last line has no newline;
			// that must actually be the original's last line.
			if pos-1 != len(lines) || trailingNewline {
				return "", applyFault(i, h, pos-1,
					"diff expects no trailing newline at line %d but the file disagrees", pos-1)
			}
		}
	}

	out = append(out, lines[pos-1:]...)
	if len(out) == 0 {
		return "", nil
	}

	// The diff's new side governs the file ending only when the last
	// hunk actually reached it; with no marker on either side the
	// original's ending is preserved.
	resultTrailing := trailingNewline || len(lines) == 0
	if pos-1 == len(lines) {
		last := hunks[len(hunks)-1]
		switch {
		case last.newNoEOL:
			resultTrailing = false
		case last.oldNoEOL:
			resultTrailing = true
		}
	}
	return joinLines(out, resultTrailing), nil
}

func mismatchFault(hunkIdx int, h hunk, line int, expected, found string) error {
	return fault.New(fault.PatchDoesNotApply, "context_mismatch",
		"hunk #%d (%s): line %d does not match", hunkIdx+1, h.header, line).
		WithHint("re-read the file and regenerate the diff against its current content").
		WithContext("line", strconv.Itoa(line)).
		WithContext("expected", clip(expected)).
		WithContext("found", clip(found))
}

func applyFault(hunkIdx int, h hunk, line int, format string, args ...any) error {
	return fault.New(fault.PatchDoesNotApply, "hunk_out_of_bounds",
		"hunk #%d (%s): %s", hunkIdx+1, h.header, fmt.Sprintf(format, args...)).
		WithHint("re-read the file and regenerate the diff against its current content").
		WithContext("line", strconv.Itoa(line))
}

// parseUnified extracts hunks from unified diff text. File headers
// (---/+++, diff --git, index) are tolerated and skipped; unknown
// content inside a hunk body is a validation fault.
func parseUnified(diff string) ([]hunk, error) {
	rawLines := strings.Split(strings.ReplaceAll(diff, "\r\n", "\n"), "\n")

	var hunks []hunk
	var cur *hunk
	origSeen, newSeen := 0, 0

	flush := func() error {
		if cur == nil {
			return nil
		}
		if origSeen != cur.origCount || newSeen != cur.newCount {
			return fault.New(fault.Validation, "hunk_counts_mismatch",
				"hunk %s declares -%d/+%d lines but carries -%d/+%d",
				cur.header, cur.origCount, cur.newCount, origSeen, newSeen)
		}
		hunks = append(hunks, *cur)
		cur = nil
		return nil
	}

	for _, raw := range rawLines {
		if strings.HasPrefix(raw, "@@") {
			if err := flush(); err != nil {
				return nil, err
			}
			h, err := parseHunkHeader(raw)
			if err != nil {
				return nil, err
			}
			cur = &h
			origSeen, newSeen = 0, 0
			continue
		}

		if cur == nil {
			// Preamble: headers, mode lines, blank separators.
			continue
		}

		if origSeen == cur.origCount && newSeen == cur.newCount && raw != noNewlineMarker {
			// Hunk body complete; anything further is preamble of the
			// next file section.
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case raw == noNewlineMarker:
			if len(cur.lines) == 0 {
				return nil, fault.New(fault.Validation, "malformed_diff",
					"no-newline marker before any hunk line in %s", cur.header)
			}
			switch cur.lines[len(cur.lines)-1].op {
			case '-':
				cur.oldNoEOL = true
			case '+':
				cur.newNoEOL = true
			case ' ':
				cur.oldNoEOL = true
				cur.newNoEOL = true
			}
		case raw == "":
			// Producers commonly strip the single space from an empty
			// context line.
			cur.lines = append(cur.lines, hunkLine{op: ' ', text: ""})
			origSeen++
			newSeen++
		case raw[0] == ' ':
			cur.lines = append(cur.lines, hunkLine{op: ' ', text: raw[1:]})
			origSeen++
			newSeen++
		case raw[0] == '-':
			cur.lines = append(cur.lines, hunkLine{op: '-', text: raw[1:]})
			origSeen++
		case raw[0] == '+':
			cur.lines = append(cur.lines, hunkLine{op: '+', text: raw[1:]})
			newSeen++
		default:
			return nil, fault.New(fault.Validation, "malformed_diff",
				"unexpected line inside hunk %s: %q", cur.header, clip(raw))
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(hunks) == 0 {
		return nil, fault.New(fault.Validation, "no_hunks",
			"diff contains no @@ hunks").
			WithHint("pass a unified diff, optionally with normalize=true if it was single-line encoded")
	}
	return hunks, nil
}

// parseHunkHeader parses "@@ -l[,c] +l[,c] @@ ...".
func parseHunkHeader(raw string) (hunk, error) {
	h := hunk{header: strings.TrimSpace(raw)}

	rest, ok := strings.CutPrefix(raw, "@@ ")
	if !ok {
		return h, malformedHeader(raw)
	}
	body, _, ok := strings.Cut(rest, " @@")
	if !ok {
		return h, malformedHeader(raw)
	}
	oldPart, newPart, ok := strings.Cut(body, " ")
	if !ok || !strings.HasPrefix(oldPart, "-") || !strings.HasPrefix(newPart, "+") {
		return h, malformedHeader(raw)
	}

	var err error
	h.origStart, h.origCount, err = parseSpan(oldPart[1:])
	if err != nil {
		return h, malformedHeader(raw)
	}
	h.newStart, h.newCount, err = parseSpan(newPart[1:])
	if err != nil {
		return h, malformedHeader(raw)
	}
	return h, nil
}

func parseSpan(s string) (start, count int, err error) {
	count = 1
	startStr, countStr, hasCount := strings.Cut(s, ",")
	if start, err = strconv.Atoi(startStr); err != nil {
		return 0, 0, err
	}
	if hasCount {
		if count, err = strconv.Atoi(countStr); err != nil {
			return 0, 0, err
		}
	}
	return start, count, nil
}

func malformedHeader(raw string) error {
	return fault.New(fault.Validation, "malformed_diff",
		"malformed hunk header: %q", clip(raw))
}
