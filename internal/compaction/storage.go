package compaction

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crabmiau/loaf/internal/loaferr"
)

// PersistedState is the on-disk shape of a session's compaction state
// (spec.md §3 "Persisted compaction state").
type PersistedState struct {
	SchemaVersion         int          `json:"schema_version"`
	LastAnchorEventIndex  int          `json:"last_anchor_event_index"`
	BackfilledFromRollout bool         `json:"backfilled_from_rollout"`
	Summary               SummaryState `json:"summary_state"`
	UpdatedAtISO          string       `json:"updated_at_iso"`
}

// SidecarPaths are the three files derived from a session rollout path
// (spec.md §4.9).
type SidecarPaths struct {
	Events  string
	State   string
	Summary string
}

// DeriveSidecarPaths strips a ".jsonl" extension (if present) from
// rolloutPath and appends the three sidecar suffixes.
func DeriveSidecarPaths(rolloutPath string) SidecarPaths {
	base := strings.TrimSuffix(rolloutPath, ".jsonl")
	return SidecarPaths{
		Events:  base + ".compact.events.jsonl",
		State:   base + ".compact.state.json",
		Summary: base + ".compact.summary.md",
	}
}

// Store reads and writes a session's compaction sidecars.
type Store struct {
	paths SidecarPaths
}

func NewStore(rolloutPath string) *Store {
	return &Store{paths: DeriveSidecarPaths(rolloutPath)}
}

func NewStoreAt(paths SidecarPaths) *Store {
	return &Store{paths: paths}
}

// AppendEvents appends events to the events JSONL sidecar, one JSON object
// per line (spec.md §4.9 "Events are append-only").
func (s *Store) AppendEvents(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.paths.Events), 0o755); err != nil {
		return loaferr.Wrap(loaferr.StorageError, "creating sidecar directory", err)
	}
	f, err := os.OpenFile(s.paths.Events, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return loaferr.Wrap(loaferr.StorageError, "opening events sidecar", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return loaferr.Wrap(loaferr.StorageError, "marshalling event", err)
		}
		if _, err := w.Write(b); err != nil {
			return loaferr.Wrap(loaferr.StorageError, "writing event", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return loaferr.Wrap(loaferr.StorageError, "writing event", err)
		}
	}
	return w.Flush()
}

// LoadEvents reads every event from the sidecar, tolerating a missing file
// (returns no events), malformed lines (skipped), and unknown event types
// (rejected/skipped), per spec.md §4.9 "Loaders tolerate...".
func (s *Store) LoadEvents() ([]Event, error) {
	f, err := os.Open(s.paths.Events)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, loaferr.Wrap(loaferr.StorageError, "opening events sidecar", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, ok := decodeEventLine([]byte(line))
		if !ok {
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, loaferr.Wrap(loaferr.StorageError, "reading events sidecar", err)
	}
	return out, nil
}

// rawEvent defers the fields the loader must tolerate individually
// (invalid timestamps, non-record payloads) so a bad value defaults in
// place instead of discarding the whole event.
type rawEvent struct {
	Index     json.RawMessage `json:"index"`
	CreatedAt json.RawMessage `json:"created_at"`
	Type      EventType       `json:"type"`
	TurnID    string          `json:"turn_id"`
	Provider  string          `json:"provider"`
	Payload   json.RawMessage `json:"payload"`
}

// decodeEventLine applies the tolerance rules of spec.md §4.9: malformed
// lines and unknown event types are rejected; an invalid timestamp is
// replaced with now; a non-record payload is replaced with {}.
func decodeEventLine(line []byte) (Event, bool) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{}, false // malformed line: skip
	}
	if !validEventType(raw.Type) {
		return Event{}, false // unknown event type: reject
	}

	e := Event{Type: raw.Type, TurnID: raw.TurnID, Provider: raw.Provider}

	if err := json.Unmarshal(raw.Index, &e.Index); err != nil {
		return Event{}, false // an event without its index is unusable
	}

	if raw.CreatedAt != nil {
		_ = json.Unmarshal(raw.CreatedAt, &e.CreatedAt)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if raw.Payload != nil {
		_ = json.Unmarshal(raw.Payload, &e.Payload)
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}

	return e, true
}

func validEventType(t EventType) bool {
	switch t {
	case EventUserMsg, EventAssistantMsg, EventToolResult, EventFileRead,
		EventFileWrite, EventCommandRun, EventErrorObserved, EventDecision, EventPlanStep:
		return true
	default:
		return false
	}
}

// LoadState reads the persisted compaction state, returning the zero value
// (anchor 0, empty summary) if the file is missing.
func (s *Store) LoadState() (PersistedState, error) {
	b, err := os.ReadFile(s.paths.State)
	if err != nil {
		if os.IsNotExist(err) {
			return PersistedState{SchemaVersion: 1, Summary: EmptySummaryState()}, nil
		}
		return PersistedState{}, loaferr.Wrap(loaferr.StorageError, "reading state sidecar", err)
	}
	var st PersistedState
	if err := json.Unmarshal(b, &st); err != nil {
		return PersistedState{}, loaferr.Wrap(loaferr.StorageError, "parsing state sidecar", err)
	}
	if st.SchemaVersion == 0 {
		st.SchemaVersion = 1
	}
	return st, nil
}

// SaveState atomically writes state (pretty-printed JSON) and the
// human-readable Markdown mirror, via write-to-tmp-then-rename (spec.md
// §4.9 "State and summary markdown are written atomically").
func (s *Store) SaveState(state PersistedState) error {
	if err := os.MkdirAll(filepath.Dir(s.paths.State), 0o755); err != nil {
		return loaferr.Wrap(loaferr.StorageError, "creating sidecar directory", err)
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return loaferr.Wrap(loaferr.StorageError, "marshalling state", err)
	}
	if err := atomicWrite(s.paths.State, b); err != nil {
		return err
	}
	md := RenderMarkdown(state.Summary)
	return atomicWrite(s.paths.Summary, []byte(md))
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return loaferr.Wrap(loaferr.StorageError, fmt.Sprintf("writing %s", tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return loaferr.Wrap(loaferr.StorageError, fmt.Sprintf("renaming %s", tmp), err)
	}
	return nil
}
