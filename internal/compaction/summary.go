package compaction

import (
	"strings"
	"time"
)

// Artifacts are the five deduplicated, case-insensitive string lists
// extracted from events (spec.md §3 "Summary artifacts").
type Artifacts struct {
	FilesTouched      []string `json:"files_touched"`
	FilesCreated      []string `json:"files_created"`
	CommandsRun       []string `json:"commands_run"`
	ErrorsSeen        []string `json:"errors_seen"`
	ExternalEndpoints []string `json:"external_endpoints"`
}

// Decision is one recorded decision in a SummaryState.
type Decision struct {
	Decision   string `json:"decision"`
	Rationale  string `json:"rationale"`
	AtISO      string `json:"at_iso,omitempty"`
	Tradeoffs  string `json:"tradeoffs,omitempty"`
}

// SummaryState is the structured, append-union-merged record that replaces
// elided events in the model context (spec.md §3 "Summary state").
type SummaryState struct {
	SchemaVersion  int        `json:"schema_version"`
	Intent         string     `json:"intent"`
	Constraints    []string   `json:"constraints"`
	Decisions      []Decision `json:"decisions"`
	Progress       []string   `json:"progress"`
	OpenQuestions  []string   `json:"open_questions"`
	NextSteps      []string   `json:"next_steps"`
	Artifacts      Artifacts  `json:"artifacts"`
	UpdatedAtISO   string     `json:"updated_at_iso"`
}

// EmptySummaryState returns a fresh, schema-valid zero-value summary.
func EmptySummaryState() SummaryState {
	return SummaryState{SchemaVersion: 1}
}

func dedupKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// appendDedup appends value to list if its case-insensitive, trimmed form
// is not already present, preserving first-insertion order (spec.md §3
// invariant, §8 property 5).
func appendDedup(list []string, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return list
	}
	key := dedupKey(value)
	for _, existing := range list {
		if dedupKey(existing) == key {
			return list
		}
	}
	return append(list, value)
}

func unionStrings(base, extra []string) []string {
	out := append([]string{}, base...)
	for _, v := range extra {
		out = appendDedup(out, v)
	}
	return out
}

func unionDecisions(base, extra []Decision) []Decision {
	out := append([]Decision{}, base...)
	seen := make(map[string]bool, len(out))
	for _, d := range out {
		seen[dedupKey(d.Decision)+"\x00"+dedupKey(d.Rationale)] = true
	}
	for _, d := range extra {
		key := dedupKey(d.Decision) + "\x00" + dedupKey(d.Rationale)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

func unionArtifacts(base, extra Artifacts) Artifacts {
	return Artifacts{
		FilesTouched:      unionStrings(base.FilesTouched, extra.FilesTouched),
		FilesCreated:      unionStrings(base.FilesCreated, extra.FilesCreated),
		CommandsRun:       unionStrings(base.CommandsRun, extra.CommandsRun),
		ErrorsSeen:        unionStrings(base.ErrorsSeen, extra.ErrorsSeen),
		ExternalEndpoints: unionStrings(base.ExternalEndpoints, extra.ExternalEndpoints),
	}
}

// MergeSummaries unions previous and candidate into a single SummaryState:
// union-append on every list (deduplicated case-insensitively, preferring
// previous order), decisions unioned by (decision, rationale) lowercased,
// candidate's intent preferred unless empty, artifacts folded in from
// deltaArtifacts directly (belt-and-braces), stamped with now (spec.md
// §4.8 "Delta summarisation").
func MergeSummaries(previous, candidate SummaryState, deltaArtifacts Artifacts, now time.Time) SummaryState {
	merged := SummaryState{
		SchemaVersion: 1,
		Intent:        previous.Intent,
		Constraints:   unionStrings(previous.Constraints, candidate.Constraints),
		Decisions:     unionDecisions(previous.Decisions, candidate.Decisions),
		Progress:      unionStrings(previous.Progress, candidate.Progress),
		OpenQuestions: unionStrings(previous.OpenQuestions, candidate.OpenQuestions),
		NextSteps:     unionStrings(previous.NextSteps, candidate.NextSteps),
	}
	if strings.TrimSpace(candidate.Intent) != "" {
		merged.Intent = candidate.Intent
	}
	merged.Artifacts = unionArtifacts(unionArtifacts(previous.Artifacts, candidate.Artifacts), deltaArtifacts)
	merged.UpdatedAtISO = now.UTC().Format(time.RFC3339)
	return merged
}

// RenderMarkdown renders a SummaryState as the deterministic Markdown used
// both for the sidecar mirror (C10) and the replacement summary message
// (C9 "Context projection").
func RenderMarkdown(s SummaryState) string {
	var b strings.Builder
	b.WriteString("# Session Summary\n\n")
	if s.Intent != "" {
		b.WriteString("## Intent\n\n" + s.Intent + "\n\n")
	}
	writeList(&b, "Constraints", s.Constraints)
	if len(s.Decisions) > 0 {
		b.WriteString("## Decisions\n\n")
		for _, d := range s.Decisions {
			line := "- " + d.Decision
			if d.Rationale != "" {
				line += " — " + d.Rationale
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}
	writeList(&b, "Progress", s.Progress)
	writeList(&b, "Open Questions", s.OpenQuestions)
	writeList(&b, "Next Steps", s.NextSteps)
	writeList(&b, "Files Touched", s.Artifacts.FilesTouched)
	writeList(&b, "Files Created", s.Artifacts.FilesCreated)
	writeList(&b, "Commands Run", s.Artifacts.CommandsRun)
	writeList(&b, "Errors Seen", s.Artifacts.ErrorsSeen)
	writeList(&b, "External Endpoints", s.Artifacts.ExternalEndpoints)
	b.WriteString("_Updated: " + s.UpdatedAtISO + "_\n")
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("## " + title + "\n\n")
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
	b.WriteString("\n")
}
