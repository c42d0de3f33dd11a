package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crabmiau/loaf/internal/clock"
	"github.com/crabmiau/loaf/internal/loaferr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("bash"))
	assert.True(t, ValidName("apply_patch"))
	assert.True(t, ValidName("ns:tool.v1-x"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("bad name"))
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	calls := 0
	def := Definition{Name: "echo", Run: func(ctx Context, input map[string]any) (any, error) {
		calls++
		return input, nil
	}}
	require.NoError(t, r.Register(def))
	require.NoError(t, r.Register(def))
	assert.Len(t, r.List(), 1)
}

func TestRuntimeUnknownToolNotFound(t *testing.T) {
	r := NewRegistry()
	rt := NewRuntime(r, nil)
	res := rt.Execute(context.Background(), Call{Name: "missing"}, nil)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}

func TestRuntimeRecoversPanic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name: "boom",
		Run: func(ctx Context, input map[string]any) (any, error) {
			panic("kaboom")
		},
	}))
	rt := NewRuntime(r, nil)
	res := rt.Execute(context.Background(), Call{Name: "boom"}, nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "kaboom")
}

func TestRuntimeErrorNeverEscapes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name: "fails",
		Run: func(ctx Context, input map[string]any) (any, error) {
			return nil, errors.New("nope")
		},
	}))
	rt := NewRuntime(r, nil)
	res := rt.Execute(context.Background(), Call{Name: "fails"}, nil)
	assert.False(t, res.OK)
	assert.Equal(t, "nope", res.Error)
}

func TestRuntimeSuccess(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name: "echo",
		Run: func(ctx Context, input map[string]any) (any, error) {
			return input["x"], nil
		},
	}))
	rt := NewRuntime(r, nil)
	res := rt.Execute(context.Background(), Call{Name: "echo", Input: map[string]any{"x": 42}}, nil)
	assert.True(t, res.OK)
	assert.Equal(t, 42, res.Output)
}

func TestRuntimeContextClockIsInjectable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name: "when",
		Run: func(ctx Context, input map[string]any) (any, error) {
			return ctx.Now().Unix(), nil
		},
	}))
	frozen := time.Unix(1700000000, 0)
	rt := NewRuntime(r, nil).WithClock(clock.NewFake(frozen))
	res := rt.Execute(context.Background(), Call{Name: "when"}, nil)
	require.True(t, res.OK)
	assert.Equal(t, frozen.Unix(), res.Output)
}

func TestFailureResultCarriesErrorKindStatus(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name: "strict",
		Run: func(ctx Context, input map[string]any) (any, error) {
			return nil, loaferr.New(loaferr.InvalidInput, "command is required")
		},
	}))
	rt := NewRuntime(r, nil)
	res := rt.Execute(context.Background(), Call{Name: "strict"}, nil)
	require.False(t, res.OK)
	out, ok := res.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "invalid_input", out["status"])
}
