package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDiff = `@@ -1,2 +1,2 @@
 a
-b
+B
`

func TestNormalizeLeavesValidDiffAlone(t *testing.T) {
	assert.Equal(t, validDiff, Normalize(validDiff))
}

func TestNormalizeStripsCRLF(t *testing.T) {
	crlf := "@@ -1,1 +1,1 @@\r\n-a\r\n+b\r\n"
	assert.Equal(t, "@@ -1,1 +1,1 @@\n-a\n+b\n", Normalize(crlf))
}

func TestNormalizeStripsMarkdownFence(t *testing.T) {
	fenced := "```diff\n" + validDiff + "```\n"
	got := Normalize(fenced)
	assert.Equal(t, validDiff, got)

	plain := "```\n" + validDiff + "```"
	assert.Equal(t, validDiff, Normalize(plain))
}

func TestNormalizeDecodesSingleLineEncoding(t *testing.T) {
	encoded := `@@ -1,2 +1,2 @@\n a\n-b\n+B\n`
	got := Normalize(encoded)
	assert.Equal(t, "@@ -1,2 +1,2 @@\n a\n-b\n+B\n", got)

	_, err := ApplyUnified("a\nb\n", got)
	require.NoError(t, err)
}

func TestNormalizeDoesNotDecodeWhenRealNewlinesExist(t *testing.T) {
	// A diff that legitimately adds the literal text \n must survive.
	diff := "@@ -1,1 +1,2 @@\n a\n+fmt.Print(\"x\\n\")\n"
	assert.Equal(t, diff, Normalize(diff))
}

func TestNormalizeAddsTrailingNewline(t *testing.T) {
	assert.Equal(t, "@@ -1,1 +1,1 @@\n-a\n+b\n", Normalize("@@ -1,1 +1,1 @@\n-a\n+b"))
}
