package compaction

import (
	"encoding/json"
	"strings"

	"github.com/crabmiau/loaf/internal/loaferr"
)

const summarizerSystemPrompt = `You are the context-compaction summarizer for an agent runtime.
Return ONLY valid JSON matching the schema.
Preserve continuity, decisions, constraints, and artifact paths from the old summary.
Merge them with what the delta events show; do not invent information that is not present.`

const retryInstruction = `Your previous reply could not be parsed as JSON.
Reply again with ONLY the JSON object: no code fences, no prose, no leading or trailing text.`

const schemaExample = `{
  "schema_version": 1,
  "intent": "string describing the user's overall goal",
  "constraints": ["string"],
  "decisions": [{"decision": "string", "rationale": "string", "at_iso": "string", "tradeoffs": "string"}],
  "progress": ["string"],
  "open_questions": ["string"],
  "next_steps": ["string"],
  "artifacts": {
    "files_touched": ["string"],
    "files_created": ["string"],
    "commands_run": ["string"],
    "errors_seen": ["string"],
    "external_endpoints": ["string"]
  }
}`

// BuildSummarizerPrompt builds the two-message prompt a caller's LLM-driven
// SummarizeDeltaFunc sends to the provider (spec.md §4.8 "Summariser
// prompt").
func BuildSummarizerPrompt(old SummaryState, delta []Event) (system, user string) {
	oldJSON, _ := json.Marshal(old)

	rows := make([]map[string]any, 0, len(delta))
	for _, e := range delta {
		rows = append(rows, map[string]any{
			"index":   e.Index,
			"type":    string(e.Type),
			"payload": e.Payload,
		})
	}
	deltaJSON, _ := json.Marshal(rows)

	var b strings.Builder
	b.WriteString("Old summary (JSON):\n")
	b.Write(oldJSON)
	b.WriteString("\n\nDelta events (JSON rows):\n")
	b.Write(deltaJSON)
	b.WriteString("\n\nSchema example:\n")
	b.WriteString(schemaExample)
	return summarizerSystemPrompt, b.String()
}

// BuildRetryPrompt appends the explicit "no code fences, no prose"
// instruction to a failed summarizer attempt.
func BuildRetryPrompt(user string) string {
	return user + "\n\n" + retryInstruction
}

// ParseSummaryJSON accepts raw JSON, fenced JSON (```json ... ```), or the
// first "{...}" substring of raw, per spec.md §4.8.
func ParseSummaryJSON(raw string) (SummaryState, error) {
	candidate := extractJSONObject(raw)
	if candidate == "" {
		return SummaryState{}, loaferr.New(loaferr.InvalidInput, "no JSON object found in summarizer reply")
	}
	var s SummaryState
	if err := json.Unmarshal([]byte(candidate), &s); err != nil {
		return SummaryState{}, loaferr.Wrap(loaferr.InvalidInput, "summarizer reply is not valid JSON", err)
	}
	if s.SchemaVersion == 0 {
		s.SchemaVersion = 1
	}
	return s, nil
}

func extractJSONObject(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			return trimmed
		}
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}
