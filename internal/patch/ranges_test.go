package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdaptivMCP/gitward/internal/fault"
)

func TestValidateRangesRejectsOverlap(t *testing.T) {
	err := ValidateRanges([]Range{
		{Start: 5, End: 10, Replacement: "x"},
		{Start: 8, End: 12, Replacement: "y"},
	}, 20)
	require.Error(t, err)
	f, ok := fault.From(err)
	require.True(t, ok)
	assert.Equal(t, fault.Validation, f.Category)
	assert.Equal(t, "range_overlap", f.Code)
	assert.Equal(t, "range #2 (8-12)", f.Context["range"])
}

func TestValidateRangesRejectsOutOfBounds(t *testing.T) {
	err := ValidateRanges([]Range{{Start: 3, End: 3, Replacement: "x"}}, 2)
	require.Error(t, err)
	f, ok := fault.From(err)
	require.True(t, ok)
	assert.Equal(t, "range_out_of_bounds", f.Code)
	assert.Equal(t, "2", f.Context["line_count"])
}

func TestValidateRangesRejectsBadSpans(t *testing.T) {
	assert.Error(t, ValidateRanges([]Range{{Start: 0, End: 1}}, 5))
	assert.Error(t, ValidateRanges([]Range{{Start: 4, End: 2}}, 5))
	assert.Error(t, ValidateRanges(nil, 5))

	err := ValidateRanges([]Range{
		{Start: 6, End: 7},
		{Start: 1, End: 2},
	}, 10)
	require.Error(t, err)
	f, _ := fault.From(err)
	assert.Equal(t, "range_overlap", f.Code)
}

func TestValidateRangesAcceptsAdjacent(t *testing.T) {
	assert.NoError(t, ValidateRanges([]Range{
		{Start: 1, End: 2},
		{Start: 3, End: 4},
	}, 4))
}

func TestApplyRangesReplacesMiddle(t *testing.T) {
	original := "a\nb\nc\nd\n"
	got, err := ApplyRanges(original, []Range{{Start: 2, End: 3, Replacement: "B\nC"}})
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nC\nd\n", got)
}

func TestApplyRangesDeletesWithEmptyReplacement(t *testing.T) {
	got, err := ApplyRanges("a\nb\nc\n", []Range{{Start: 2, End: 2, Replacement: ""}})
	require.NoError(t, err)
	assert.Equal(t, "a\nc\n", got)
}

func TestApplyRangesGrowsSpan(t *testing.T) {
	got, err := ApplyRanges("a\nb\n", []Range{{Start: 2, End: 2, Replacement: "x\ny\nz"}})
	require.NoError(t, err)
	assert.Equal(t, "a\nx\ny\nz\n", got)
}

func TestApplyRangesMultiple(t *testing.T) {
	original := "1\n2\n3\n4\n5\n6\n"
	got, err := ApplyRanges(original, []Range{
		{Start: 1, End: 1, Replacement: "one"},
		{Start: 3, End: 4, Replacement: "three-four"},
		{Start: 6, End: 6, Replacement: "six"},
	})
	require.NoError(t, err)
	assert.Equal(t, "one\n2\nthree-four\n5\nsix\n", got)
}

func TestApplyRangesPreservesMissingTrailingNewline(t *testing.T) {
	got, err := ApplyRanges("a\nb", []Range{{Start: 1, End: 1, Replacement: "A"}})
	require.NoError(t, err)
	assert.Equal(t, "A\nb", got)
}

func TestApplyRangesCanEmptyTheFile(t *testing.T) {
	got, err := ApplyRanges("a\nb\n", []Range{{Start: 1, End: 2, Replacement: ""}})
	require.NoError(t, err)
	assert.Equal(t, "", got)
}
