// Package streaming implements the renderer throughput policy (C11): a
// small hysteretic state machine deciding whether the TUI line buffer
// drains smoothly (one line per tick) or in catchup (drain everything),
// adapted from status_tracker.go's handleStabilityWindow debounce.
package streaming

import "time"

// Mode is the drain mode the policy is currently in.
type Mode string

const (
	ModeSmooth  Mode = "smooth"
	ModeCatchup Mode = "catchup"
)

// Thresholds controls the hysteresis bounds; NewPolicy given the zero-value
// Thresholds uses the spec's defaults (see DefaultThresholds).
type Thresholds struct {
	EnterQueued     int
	EnterAge        time.Duration
	LeaveQueued     int
	LeaveAge        time.Duration
	LeaveHoldFor    time.Duration
	ReentryBlockFor time.Duration
	SevereQueued    int
	SevereAge       time.Duration
}

// DefaultThresholds are the values named in spec.md §4.10.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EnterQueued:     8,
		EnterAge:        120 * time.Millisecond,
		LeaveQueued:     2,
		LeaveAge:        40 * time.Millisecond,
		LeaveHoldFor:    250 * time.Millisecond,
		ReentryBlockFor: 250 * time.Millisecond,
		SevereQueued:    64,
		SevereAge:       300 * time.Millisecond,
	}
}

// Snapshot is one tick's observed renderer queue state.
type Snapshot struct {
	Queued int
	Age    time.Duration
	At     time.Time
}

// Decision is the policy's output for one tick.
type Decision struct {
	Mode  Mode
	Drain int // number of lines the caller should drain this tick
}

// Policy is the hysteretic state machine described in spec.md §4.10.
type Policy struct {
	th   Thresholds
	mode Mode

	leaveEligibleSince time.Time // zero when not currently eligible to leave
	leftCatchupAt      time.Time // zero until the first leave
	haveLeft           bool
}

// NewPolicy constructs a Policy starting in smooth mode.
func NewPolicy(th Thresholds) *Policy {
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	return &Policy{th: th, mode: ModeSmooth}
}

// Mode returns the policy's current mode.
func (p *Policy) Mode() Mode { return p.mode }

// Tick feeds one observation and returns the drain decision. scope
// "catchup_only" forces zero drain while in smooth mode (spec.md §4.10).
func (p *Policy) Tick(snap Snapshot, scope string) Decision {
	switch p.mode {
	case ModeSmooth:
		p.evaluateEntry(snap)
	case ModeCatchup:
		p.evaluateLeave(snap)
	}

	drain := 0
	switch p.mode {
	case ModeCatchup:
		drain = snap.Queued
	case ModeSmooth:
		if scope != "catchup_only" && snap.Queued > 0 {
			drain = 1
		}
	}
	return Decision{Mode: p.mode, Drain: drain}
}

func (p *Policy) evaluateEntry(snap Snapshot) {
	severe := snap.Queued >= p.th.SevereQueued || snap.Age >= p.th.SevereAge
	blocked := p.haveLeft && snap.At.Sub(p.leftCatchupAt) < p.th.ReentryBlockFor && !severe
	if blocked {
		return
	}
	if snap.Queued >= p.th.EnterQueued || snap.Age >= p.th.EnterAge || severe {
		p.mode = ModeCatchup
		p.leaveEligibleSince = time.Time{}
	}
}

func (p *Policy) evaluateLeave(snap Snapshot) {
	eligible := snap.Queued <= p.th.LeaveQueued && snap.Age <= p.th.LeaveAge
	if !eligible {
		p.leaveEligibleSince = time.Time{}
		return
	}
	if p.leaveEligibleSince.IsZero() {
		p.leaveEligibleSince = snap.At
		return
	}
	if snap.At.Sub(p.leaveEligibleSince) >= p.th.LeaveHoldFor {
		p.mode = ModeSmooth
		p.haveLeft = true
		p.leftCatchupAt = snap.At
		p.leaveEligibleSince = time.Time{}
	}
}
