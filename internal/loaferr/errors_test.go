package loaferr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	assert.Equal(t, "not_found: unknown session", New(NotFound, "unknown session").Error())
	assert.Equal(t, "patch_parse_error: bad hunk (line 3)", New(PatchParseError, "bad hunk").WithLine(3).Error())
	assert.Equal(t, "patch_match_error: no match (a.go)", New(PatchMatchError, "no match").WithPath("a.go").Error())
	assert.Equal(t, "patch_parse_error: bad (line 3, a.go)", New(PatchParseError, "bad").WithPath("a.go").WithLine(3).Error())
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := New(Timeout, "command exceeded budget")
	wrapped := fmt.Errorf("running tool: %w", base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, Timeout, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := Wrap(StorageError, "writing sidecar", errors.New("disk full"))
	assert.True(t, errors.Is(err, New(StorageError, "")))
	assert.False(t, errors.Is(err, New(NotFound, "")))
	assert.Equal(t, "disk full", errors.Unwrap(err).Error())
}
