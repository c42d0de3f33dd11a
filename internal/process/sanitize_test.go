package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeNormalizesCRLF(t *testing.T) {
	out := sanitizePTYOutput([]byte("one\r\ntwo\rthree"))
	assert.Equal(t, "one\ntwo\nthree", string(out))
}

func TestSanitizeStripsCSISequences(t *testing.T) {
	out := sanitizePTYOutput([]byte("\x1b[31mred\x1b[0m plain"))
	assert.Equal(t, "red plain", string(out))
}

func TestSanitizeStripsOSCTitleSequences(t *testing.T) {
	out := sanitizePTYOutput([]byte("\x1b]0;window title\x07text"))
	assert.Equal(t, "text", string(out))

	out = sanitizePTYOutput([]byte("\x1b]2;title\x1b\\text"))
	assert.Equal(t, "text", string(out))
}

func TestSanitizeKeepsTabAndNewline(t *testing.T) {
	out := sanitizePTYOutput([]byte("a\tb\nc\x07d\x00e"))
	assert.Equal(t, "a\tb\ncde", string(out))
}

func TestSanitizeStripsFocusReports(t *testing.T) {
	out := sanitizePTYOutput([]byte("\x1b[Ibefore\x1b[Oafter"))
	assert.Equal(t, "beforeafter", string(out))
}

func TestDetectsDSRAndDA1Queries(t *testing.T) {
	assert.True(t, containsDSRQuery([]byte("x\x1b[6ny")))
	assert.False(t, containsDSRQuery([]byte("plain")))
	assert.True(t, containsDA1Query([]byte("\x1b[c")))
	assert.True(t, containsDA1Query([]byte("\x1b[0c")))
	assert.False(t, containsDA1Query([]byte("\x1b[5c"))) // cursor-forward, not DA1
}
