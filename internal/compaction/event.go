// Package compaction implements the anchored context-compaction engine:
// the per-session event log (C8), the compaction engine (C9), and the
// sidecar storage layer (C10) described in spec.md §3-§4 (§4.7-§4.9).
package compaction

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// EventType is the closed discriminant of a CompactEvent (spec.md §3).
type EventType string

const (
	EventUserMsg       EventType = "user_msg"
	EventAssistantMsg  EventType = "assistant_msg"
	EventToolResult    EventType = "tool_result"
	EventFileRead      EventType = "file_read"
	EventFileWrite     EventType = "file_write_patch"
	EventCommandRun    EventType = "command_run"
	EventErrorObserved EventType = "error_observed"
	EventDecision      EventType = "decision"
	EventPlanStep      EventType = "plan_step"
)

// Event is one entry in a session's compaction event log (spec.md §3
// "Compact event"). Indices are strictly increasing and contiguous once
// persisted through the append path.
type Event struct {
	Index      int            `json:"index"`
	CreatedAt  time.Time      `json:"created_at"`
	Type       EventType      `json:"type"`
	TurnID     string         `json:"turn_id,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// ChatMessage is the projection of one or more events into the shape fed
// back to the model (spec.md §4.7).
type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ToChatMessage projects a single event to its chat-message rendering. It
// is a pure, table-driven function over the event's type tag (spec.md §9
// "Event-to-message rendering").
func (e Event) ToChatMessage() ChatMessage {
	switch e.Type {
	case EventUserMsg:
		return ChatMessage{Role: "user", Text: payloadText(e.Payload, "text")}
	case EventAssistantMsg:
		return ChatMessage{Role: "assistant", Text: payloadText(e.Payload, "text")}
	case EventCommandRun:
		return ChatMessage{Role: "assistant", Text: tag("command", e.Payload, "command")}
	case EventToolResult:
		status := "ok"
		if v, _ := e.Payload["ok"].(bool); !v {
			status = "error"
		}
		return ChatMessage{Role: "assistant", Text: fmt.Sprintf("[tool result:%s] %s", status, clippedPreview(e.Payload))}
	case EventErrorObserved:
		return ChatMessage{Role: "assistant", Text: tag("error", e.Payload, "message")}
	case EventDecision:
		return ChatMessage{Role: "assistant", Text: tag("decision", e.Payload, "decision")}
	case EventPlanStep:
		return ChatMessage{Role: "assistant", Text: tag("plan step", e.Payload, "step")}
	case EventFileRead:
		return ChatMessage{Role: "assistant", Text: tag("file read", e.Payload, "path")}
	case EventFileWrite:
		return ChatMessage{Role: "assistant", Text: tag("file write", e.Payload, "path")}
	default:
		return ChatMessage{Role: "assistant", Text: clippedPreview(e.Payload)}
	}
}

func payloadText(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return clippedPreview(payload)
}

func tag(label string, payload map[string]any, primaryKey string) string {
	if v, ok := payload[primaryKey].(string); ok && v != "" {
		return fmt.Sprintf("[%s] %s", label, v)
	}
	return fmt.Sprintf("[%s] %s", label, clippedPreview(payload))
}

const clipLength = 240

func clippedPreview(payload map[string]any) string {
	b := jsonCompact(payload)
	if len(b) > clipLength {
		return b[:clipLength] + "…"
	}
	return b
}

// HistoryMessage is the shape of a stored chat-transcript entry consumed by
// backfillEventsFromHistory (spec.md §4.7).
type HistoryMessage struct {
	Role    string
	Text    string
	Images  []string
	TurnID  string
}

// BackfillEventsFromHistory rebuilds a contiguous event sequence from a
// stored chat transcript, skipping messages that are empty and carry no
// images; indices start at startIndex.
func BackfillEventsFromHistory(history []HistoryMessage, startIndex int) []Event {
	out := make([]Event, 0, len(history))
	idx := startIndex
	for _, m := range history {
		if strings.TrimSpace(m.Text) == "" && len(m.Images) == 0 {
			continue
		}
		typ := EventAssistantMsg
		if m.Role == "user" {
			typ = EventUserMsg
		}
		out = append(out, Event{
			Index:     idx,
			CreatedAt: time.Now().UTC(),
			Type:      typ,
			TurnID:    m.TurnID,
			Payload:   map[string]any{"text": m.Text},
		})
		idx++
	}
	return out
}

var (
	urlRE        = regexp.MustCompile(`\bhttps?://[^\s"'` + "`" + `<>()]+`)
	cmdReadRE    = regexp.MustCompile(`(?i)^\s*(cat|less|more|head|tail|sed\s+-n)\b`)
	cmdWriteRE   = regexp.MustCompile(`(?i)^\s*(touch|mkdir|cp|mv)\b`)
	cmdErrorRE   = regexp.MustCompile(`(?i)(error|exception|traceback|panic:|fatal)`)
)

// ExtractArtifactsFromEvents walks every event's payload (recursively
// descending maps and arrays), collecting URLs and classifying bash
// commands with a small set of regexes to populate the five Artifacts
// lists (spec.md §4.7).
func ExtractArtifactsFromEvents(events []Event) Artifacts {
	var a Artifacts
	for _, e := range events {
		walkPayload(e.Payload, &a)
		if e.Type == EventCommandRun {
			if cmd, ok := e.Payload["command"].(string); ok {
				classifyCommand(cmd, &a)
			}
		}
		if e.Type == EventErrorObserved {
			if msg, ok := e.Payload["message"].(string); ok {
				a.ErrorsSeen = appendDedup(a.ErrorsSeen, msg)
			}
		}
		if e.Type == EventFileRead || e.Type == EventFileWrite {
			if p, ok := e.Payload["path"].(string); ok {
				a.FilesTouched = appendDedup(a.FilesTouched, p)
				if e.Type == EventFileWrite {
					if created, _ := e.Payload["created"].(bool); created {
						a.FilesCreated = appendDedup(a.FilesCreated, p)
					}
				}
			}
		}
	}
	return a
}

func classifyCommand(cmd string, a *Artifacts) {
	a.CommandsRun = appendDedup(a.CommandsRun, cmd)
	switch {
	case cmdWriteRE.MatchString(cmd):
		a.FilesCreated = appendDedup(a.FilesCreated, cmd)
	case cmdReadRE.MatchString(cmd):
		a.FilesTouched = appendDedup(a.FilesTouched, cmd)
	case cmdErrorRE.MatchString(cmd):
		a.ErrorsSeen = appendDedup(a.ErrorsSeen, cmd)
	}
}

func walkPayload(v any, a *Artifacts) {
	switch val := v.(type) {
	case map[string]any:
		for _, nested := range val {
			walkPayload(nested, a)
		}
	case []any:
		for _, nested := range val {
			walkPayload(nested, a)
		}
	case string:
		for _, url := range urlRE.FindAllString(val, -1) {
			a.ExternalEndpoints = appendDedup(a.ExternalEndpoints, url)
		}
	}
}
