package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyHysteresis(t *testing.T) {
	p := NewPolicy(DefaultThresholds())
	base := time.Unix(0, 0)

	d := p.Tick(Snapshot{Queued: 9, Age: 10 * time.Millisecond, At: base}, "")
	require.Equal(t, ModeCatchup, d.Mode)
	assert.Equal(t, 9, d.Drain)

	d = p.Tick(Snapshot{Queued: 2, Age: 40 * time.Millisecond, At: base.Add(200 * time.Millisecond)}, "")
	assert.Equal(t, ModeCatchup, d.Mode)

	d = p.Tick(Snapshot{Queued: 2, Age: 40 * time.Millisecond, At: base.Add(460 * time.Millisecond)}, "")
	require.Equal(t, ModeSmooth, d.Mode)

	d = p.Tick(Snapshot{Queued: 8, Age: 10 * time.Millisecond, At: base.Add(500 * time.Millisecond)}, "catchup_only")
	assert.Equal(t, ModeSmooth, d.Mode)
	assert.Equal(t, 0, d.Drain)

	d = p.Tick(Snapshot{Queued: 64, Age: 10 * time.Millisecond, At: base.Add(520 * time.Millisecond)}, "")
	assert.Equal(t, ModeCatchup, d.Mode)
	assert.Equal(t, 64, d.Drain)
}

func TestPolicySmoothDrainsOneLineAtATime(t *testing.T) {
	p := NewPolicy(DefaultThresholds())
	d := p.Tick(Snapshot{Queued: 3, Age: 5 * time.Millisecond, At: time.Unix(0, 0)}, "")
	assert.Equal(t, ModeSmooth, d.Mode)
	assert.Equal(t, 1, d.Drain)
}
