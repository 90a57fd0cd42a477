package patch

import (
	"strconv"

	"github.com/AdaptivMCP/gitward/internal/fault"
)

// Range is a 1-based inclusive line span to replace. An empty Replacement
// deletes the span; a multi-line Replacement may grow or shrink it.
type Range struct {
	Start       int    `json:"start_line"`
	End         int    `json:"end_line"`
	Replacement string `json:"replacement"`
}

// ValidateRanges rejects range lists that are unsorted, overlapping, or
// outside [1, lineCount]. The returned fault names the offending range so
// the caller can fix exactly one thing.
func ValidateRanges(ranges []Range, lineCount int) error {
	if len(ranges) == 0 {
		return fault.New(fault.Validation, "no_ranges", "at least one line range is required")
	}
	prevEnd := 0
	for i, r := range ranges {
		label := rangeLabel(i, r)
		if r.Start < 1 || r.End < r.Start {
			return fault.New(fault.Validation, "bad_range",
				"%s is not a valid span: start must be >= 1 and end >= start", label).
				WithContext("range", label)
		}
		if r.End > lineCount {
			return fault.New(fault.Validation, "range_out_of_bounds",
				"%s exceeds the file, which has %d lines", label, lineCount).
				WithContext("range", label).
				WithContext("line_count", strconv.Itoa(lineCount))
		}
		if r.Start <= prevEnd {
			return fault.New(fault.Validation, "range_overlap",
				"%s overlaps the previous range or is out of order; ranges must be sorted by start line and disjoint", label).
				WithContext("range", label)
		}
		prevEnd = r.End
	}
	return nil
}

// ApplyRanges validates ranges against original and applies them from the
// last range to the first so earlier line numbers stay valid.
func ApplyRanges(original string, ranges []Range) (string, error) {
	lines, trailingNewline := splitLines(original)
	if err := ValidateRanges(ranges, len(lines)); err != nil {
		return "", err
	}

	for i := len(ranges) - 1; i >= 0; i-- {
		r := ranges[i]
		repl, _ := splitLines(r.Replacement)
		rebuilt := make([]string, 0, len(lines)-(r.End-r.Start+1)+len(repl))
		rebuilt = append(rebuilt, lines[:r.Start-1]...)
		rebuilt = append(rebuilt, repl...)
		rebuilt = append(rebuilt, lines[r.End:]...)
		lines = rebuilt
	}

	if len(lines) == 0 {
		return "", nil
	}
	return joinLines(lines, trailingNewline), nil
}

func rangeLabel(i int, r Range) string {
	return "range #" + strconv.Itoa(i+1) + " (" + strconv.Itoa(r.Start) + "-" + strconv.Itoa(r.End) + ")"
}
