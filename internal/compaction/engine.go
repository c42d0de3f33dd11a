package compaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crabmiau/loaf/internal/eventbus"
	"github.com/crabmiau/loaf/internal/loaferr"
	"github.com/crabmiau/loaf/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Policy governs when a compaction pass fires and how far it advances the
// anchor (spec.md §4.8).
type Policy struct {
	HighWatermarkRatio     float64
	TargetRatio            float64
	MinimumRecentEvents    int
	MinimumRecentUserTurns int
}

func clampRatio(r float64) float64 {
	if r < 0.10 {
		return 0.10
	}
	if r > 0.99 {
		return 0.99
	}
	return r
}

// Clamp normalizes ratios to [0.10,0.99] and fills in the spec's defaults
// for unset fields, applied once at accept time.
func (p Policy) Clamp() Policy {
	p.HighWatermarkRatio = clampRatio(p.HighWatermarkRatio)
	p.TargetRatio = clampRatio(p.TargetRatio)
	if p.MinimumRecentEvents <= 0 {
		p.MinimumRecentEvents = 12
	}
	if p.MinimumRecentUserTurns <= 0 {
		p.MinimumRecentUserTurns = 4
	}
	return p
}

// DefaultPolicy returns the spec's default ratios (0.82 high-watermark,
// 0.58 target) and recency minimums (12 events, 4 user turns).
func DefaultPolicy() Policy {
	return Policy{HighWatermarkRatio: 0.82, TargetRatio: 0.58, MinimumRecentEvents: 12, MinimumRecentUserTurns: 4}.Clamp()
}

// TokenEstimator is the pluggable callback that estimates the token cost of
// a slice of chat messages. The engine never knows the tokeniser (spec.md
// §4.8 "Token estimation").
type TokenEstimator func(messages []ChatMessage) int

// SummarizeDeltaFunc produces a candidate SummaryState from the previous
// summary and the newly-elided delta events. Implementations may invoke an
// out-of-process model call; the engine requires the caller to prevent
// re-entrancy on the same session (spec.md §9 "Cyclic callbacks").
type SummarizeDeltaFunc func(ctx context.Context, previous SummaryState, delta []Event) (SummaryState, error)

// Request is a single compaction-pass invocation.
type Request struct {
	SessionID                string
	Events                   []Event
	Summary                  SummaryState
	AnchorBefore             int
	ModelContextWindowTokens int
	PinnedTokenEstimate      int
	Force                    bool
	Reason                   string
	Estimate                 TokenEstimator
	Summarize                SummarizeDeltaFunc
}

// Result is the outcome of a compaction pass.
type Result struct {
	Compressed      bool
	NewAnchor       int
	Summary         SummaryState
	ContextMessages []ChatMessage
}

// Engine is the anchored context-compaction engine (C9). It is pure aside
// from the caller-supplied Estimate/Summarize callbacks; the per-session
// mutex here enforces the "never re-entrant on a single session" invariant
// at the boundary even if a caller forgets to serialize (spec.md §9).
type Engine struct {
	policy Policy
	tracer trace.Tracer
	bus    eventbus.Bus

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewEngine(policy Policy) *Engine {
	return &Engine{
		policy: policy.Clamp(),
		tracer: tracing.Tracer("loaf/compaction"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetBus attaches a notification bus; every completed pass publishes its
// outcome on "compaction.pass" for a frontend to relay. Must be called
// before the first Compact.
func (e *Engine) SetBus(bus eventbus.Bus) { e.bus = bus }

func (e *Engine) publishPass(ctx context.Context, req Request, res Result) {
	if e.bus == nil {
		return
	}
	data := map[string]interface{}{
		"session_id":    req.SessionID,
		"compressed":    res.Compressed,
		"anchor_before": req.AnchorBefore,
		"new_anchor":    res.NewAnchor,
		"reason":        req.Reason,
		"forced":        req.Force,
	}
	_ = e.bus.Publish(ctx, "compaction.pass", eventbus.NewEvent("compaction.pass", "compaction-engine", data))
}

func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	return l
}

// Compact runs one compaction pass for req. It returns Compressed=false
// with the summary and anchor unchanged when no pass was needed (spec.md
// §8 property 3).
func (e *Engine) Compact(ctx context.Context, req Request) (Result, error) {
	lock := e.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := e.tracer.Start(ctx, "compact")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", req.SessionID), attribute.Bool("force", req.Force))

	if req.Estimate == nil {
		return Result{}, loaferr.New(loaferr.InvalidInput, "compaction request requires an Estimate callback")
	}
	if req.Summarize == nil {
		return Result{}, loaferr.New(loaferr.InvalidInput, "compaction request requires a Summarize callback")
	}

	anchorBefore := req.AnchorBefore
	highWatermark := e.policy.HighWatermarkRatio * float64(req.ModelContextWindowTokens)
	target := e.policy.TargetRatio * float64(req.ModelContextWindowTokens)

	forced := req.Force || req.Reason == "provider_switch"

	if !forced {
		current := e.estimateAt(req, anchorBefore)
		span.SetAttributes(attribute.Int("estimated_tokens", current))
		if float64(current) <= highWatermark {
			res := Result{Compressed: false, NewAnchor: anchorBefore, Summary: req.Summary}
			e.publishPass(ctx, req, res)
			return res, nil
		}
	}

	upperBound := e.upperBound(req.Events, anchorBefore)

	var newAnchor int
	if forced {
		newAnchor = upperBound
	} else {
		newAnchor = anchorBefore
		for newAnchor < upperBound {
			estimate := e.estimateAt(req, newAnchor)
			if float64(estimate) <= target {
				break
			}
			newAnchor++
		}
	}
	span.SetAttributes(attribute.Int("anchor_before", anchorBefore), attribute.Int("new_anchor", newAnchor))

	// A summarizer failure propagates to the caller, which leaves the
	// anchor unchanged (spec.md §7).
	delta := sliceEvents(req.Events, anchorBefore, newAnchor)
	candidate, err := req.Summarize(ctx, req.Summary, delta)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("summarizing delta events: %w", err)
	}

	merged := MergeSummaries(req.Summary, candidate, ExtractArtifactsFromEvents(delta), timeNow())
	messages := BuildModelContextMessages(merged, req.Events, newAnchor)

	res := Result{
		Compressed:      true,
		NewAnchor:       newAnchor,
		Summary:         merged,
		ContextMessages: messages,
	}
	e.publishPass(ctx, req, res)
	return res, nil
}

func (e *Engine) estimateAt(req Request, anchor int) int {
	messages := BuildModelContextMessages(req.Summary, req.Events, anchor)
	return req.PinnedTokenEstimate + req.Estimate(messages)
}

// upperBound computes max(anchorBefore, minimumRecentStart) where
// minimumRecentStart is whichever of the two recency floors (12 events, 4
// user turns) keeps more of the tail (spec.md §4.8 "Anchor selection").
func (e *Engine) upperBound(events []Event, anchorBefore int) int {
	n := len(events)
	if n == 0 {
		return anchorBefore
	}

	byEventCount := n - e.policy.MinimumRecentEvents
	if byEventCount < 0 {
		byEventCount = 0
	}

	userTurnsNeeded := e.policy.MinimumRecentUserTurns
	byUserTurns := 0
	seen := 0
	for i := n - 1; i >= 0; i-- {
		if events[i].Type == EventUserMsg {
			seen++
			if seen == userTurnsNeeded {
				byUserTurns = i
				break
			}
		}
	}
	// Fewer than userTurnsNeeded user events exist: the floor is the start
	// of the log (keep everything).
	if seen < userTurnsNeeded {
		byUserTurns = 0
	}

	minimumRecentStart := byEventCount
	if byUserTurns < minimumRecentStart {
		minimumRecentStart = byUserTurns
	}

	if minimumRecentStart < anchorBefore {
		return anchorBefore
	}
	return minimumRecentStart
}

func sliceEvents(events []Event, from, to int) []Event {
	var out []Event
	for _, e := range events {
		if e.Index >= from && e.Index < to {
			out = append(out, e)
		}
	}
	return out
}

func summaryIsEmpty(s SummaryState) bool {
	return s.Intent == "" && len(s.Constraints) == 0 && len(s.Decisions) == 0 &&
		len(s.Progress) == 0 && len(s.OpenQuestions) == 0 && len(s.NextSteps) == 0 &&
		len(s.Artifacts.FilesTouched) == 0 && len(s.Artifacts.FilesCreated) == 0 &&
		len(s.Artifacts.CommandsRun) == 0 && len(s.Artifacts.ErrorsSeen) == 0 &&
		len(s.Artifacts.ExternalEndpoints) == 0
}

// BuildModelContextMessages emits an optional summary message followed by
// the chat projections of events with index >= anchor (spec.md §4.8
// "Context projection").
func BuildModelContextMessages(summary SummaryState, events []Event, anchor int) []ChatMessage {
	var out []ChatMessage
	if !summaryIsEmpty(summary) {
		out = append(out, ChatMessage{Role: "assistant", Text: RenderMarkdown(summary)})
	}
	for _, e := range events {
		if e.Index >= anchor {
			out = append(out, e.ToChatMessage())
		}
	}
	return out
}

// timeNow is a seam so tests could inject determinism if needed; production
// code always wants wall-clock time here.
var timeNow = func() time.Time { return time.Now() }
