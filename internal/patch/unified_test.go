package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdaptivMCP/gitward/internal/fault"
)

func TestApplyUnifiedReplacesLine(t *testing.T) {
	original := "alpha\nbeta\ngamma\n"
	diff := `@@ -1,3 +1,3 @@
 alpha
-beta
+BETA
 gamma
`
	got, err := ApplyUnified(original, diff)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nBETA\ngamma\n", got)
}

func TestApplyUnifiedToleratesFileHeaders(t *testing.T) {
	original := "one\ntwo\n"
	diff := `diff --git a/notes.txt b/notes.txt
index e69de29..4b825dc 100644
--- a/notes.txt
+++ b/notes.txt
@@ -1,2 +1,2 @@
 one
-two
+2
`
	got, err := ApplyUnified(original, diff)
	require.NoError(t, err)
	assert.Equal(t, "one\n2\n", got)
}

func TestApplyUnifiedMultipleHunks(t *testing.T) {
	original := "a\nb\nc\nd\ne\nf\ng\nh\n"
	diff := `@@ -1,2 +1,2 @@
 a
-b
+B
@@ -6,3 +6,2 @@
 f
-g
 h
`
	got, err := ApplyUnified(original, diff)
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\nd\ne\nf\nh\n", got)
}

func TestApplyUnifiedPureInsertion(t *testing.T) {
	original := "a\nc\n"
	diff := `@@ -1,0 +2,1 @@
+b
`
	got, err := ApplyUnified(original, diff)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", got)
}

func TestApplyUnifiedCreatesFileFromEmpty(t *testing.T) {
	diff := `@@ -0,0 +1,2 @@
+first
+second
`
	got, err := ApplyUnified("", diff)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", got)
}

func TestApplyUnifiedDeletesEverything(t *testing.T) {
	diff := `@@ -1,2 +0,0 @@
-a
-b
`
	got, err := ApplyUnified("a\nb\n", diff)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestApplyUnifiedContextMismatch(t *testing.T) {
	original := "alpha\nchanged upstream\ngamma\n"
	diff := `@@ -1,3 +1,3 @@
 alpha
-beta
+BETA
 gamma
`
	_, err := ApplyUnified(original, diff)
	require.Error(t, err)
	f, ok := fault.From(err)
	require.True(t, ok)
	assert.Equal(t, fault.PatchDoesNotApply, f.Category)
	assert.Equal(t, "context_mismatch", f.Code)
	assert.Equal(t, "2", f.Context["line"])
	assert.Equal(t, "beta", f.Context["expected"])
	assert.Equal(t, "changed upstream", f.Context["found"])
}

func TestApplyUnifiedHunkBeyondFileEnd(t *testing.T) {
	diff := `@@ -10,1 +10,1 @@
-x
+y
`
	_, err := ApplyUnified("a\nb\n", diff)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.PatchDoesNotApply))
}

func TestApplyUnifiedEmptyContextLine(t *testing.T) {
	original := "a\n\nb\n"
	diff := "@@ -1,3 +1,3 @@\n a\n\n-b\n+B\n"

	got, err := ApplyUnified(original, diff)
	require.NoError(t, err)
	assert.Equal(t, "a\n\nB\n", got)
}

func TestApplyUnifiedNoNewlineAtEOF(t *testing.T) {
	original := "a\nend"
	diff := `@@ -1,2 +1,2 @@
 a
-end
\ No newline at end of file
+END
\ No newline at end of file
`
	got, err := ApplyUnified(original, diff)
	require.NoError(t, err)
	assert.Equal(t, "a\nEND", got)
}

func TestApplyUnifiedAddsTrailingNewline(t *testing.T) {
	original := "a\nend"
	diff := `@@ -1,2 +1,2 @@
 a
-end
\ No newline at end of file
+end
`
	got, err := ApplyUnified(original, diff)
	require.NoError(t, err)
	assert.Equal(t, "a\nend\n", got)
}

func TestApplyUnifiedNoNewlineExpectationViolated(t *testing.T) {
	// Diff claims the old file lacks a trailing newline; it has one.
	diff := `@@ -1,2 +1,2 @@
 a
-end
\ No newline at end of file
+END
`
	_, err := ApplyUnified("a\nend\n", diff)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.PatchDoesNotApply))
}

func TestApplyUnifiedRejectsOverlappingHunks(t *testing.T) {
	diff := `@@ -2,2 +2,2 @@
 b
-c
+C
@@ -1,2 +1,2 @@
 a
-b
+B
`
	_, err := ApplyUnified("a\nb\nc\nd\n", diff)
	require.Error(t, err)
	f, ok := fault.From(err)
	require.True(t, ok)
	assert.Equal(t, fault.Validation, f.Category)
	assert.Equal(t, "hunk_overlap", f.Code)
}

func TestApplyUnifiedMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		diff string
		code string
	}{
		{"no hunks", "just some prose\n", "no_hunks"},
		{"bad header", "@@ not numbers @@\n x\n", "malformed_diff"},
		{"count mismatch", "@@ -1,2 +1,1 @@\n-a\n+A\n", "hunk_counts_mismatch"},
		{"junk in body", "@@ -1,2 +1,2 @@\n a\n*b\n", "malformed_diff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyUnified("a\nb\n", tt.diff)
			require.Error(t, err)
			f, ok := fault.From(err)
			require.True(t, ok)
			assert.Equal(t, fault.Validation, f.Category)
			assert.Equal(t, tt.code, f.Code)
		})
	}
}

func TestApplyUnifiedHeaderWithoutCounts(t *testing.T) {
	got, err := ApplyUnified("a\n", "@@ -1 +1 @@\n-a\n+b\n")
	require.NoError(t, err)
	assert.Equal(t, "b\n", got)
}
