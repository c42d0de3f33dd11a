package process

import "sync"

// StreamState is a single stdout/stderr stream of a background session: a
// ring buffer capped at maxChars, plus bookkeeping for incremental,
// cursor-based reads (spec §3 "Stream state").
//
// Invariants: cursor >= dropped; buffer length == min(total-dropped,
// maxChars); unread == max(0, total-max(cursor,dropped)).
type StreamState struct {
	mu       sync.Mutex
	maxChars int

	buf     []rune
	total   int // characters ever appended
	dropped int // characters dropped off the front
	cursor  int // absolute index of the next unread character
}

func NewStreamState(maxChars int) *StreamState {
	if maxChars <= 0 {
		maxChars = 300000
	}
	return &StreamState{maxChars: maxChars}
}

// Append adds data to the buffer, evicting the oldest characters if the
// cap is exceeded.
func (s *StreamState) Append(data string) {
	if data == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := []rune(data)
	s.buf = append(s.buf, r...)
	s.total += len(r)

	if len(s.buf) > s.maxChars {
		overflow := len(s.buf) - s.maxChars
		s.buf = s.buf[overflow:]
		s.dropped += overflow
	}
}

// ReadSelector mirrors spec §4.2's read parameters.
type ReadSelector struct {
	MaxChars int
	Peek     bool
}

// ReadResult reports the slice read plus data-loss/backlog signals.
type ReadResult struct {
	Data      string
	Dropped   bool // bytes were dropped before the cursor (data loss)
	HasMore   bool // more data remains beyond the returned slice
	NewCursor int
}

// Read returns up to sel.MaxChars starting at max(cursor, dropped),
// advancing the cursor unless sel.Peek is set.
func (s *StreamState) Read(sel ReadSelector) ReadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.cursor
	wasDropped := false
	if start < s.dropped {
		start = s.dropped
		wasDropped = true
	}

	bufStart := start - s.dropped
	if bufStart < 0 {
		bufStart = 0
	}
	if bufStart > len(s.buf) {
		bufStart = len(s.buf)
	}

	maxChars := sel.MaxChars
	if maxChars <= 0 {
		maxChars = 8000
	}

	end := bufStart + maxChars
	if end > len(s.buf) {
		end = len(s.buf)
	}

	slice := string(s.buf[bufStart:end])
	newCursor := s.dropped + end
	hasMore := end < len(s.buf)

	if !sel.Peek {
		s.cursor = newCursor
	}

	return ReadResult{
		Data:      slice,
		Dropped:   wasDropped,
		HasMore:   hasMore,
		NewCursor: newCursor,
	}
}

// Snapshot returns bookkeeping counters, useful for status/list responses.
func (s *StreamState) Snapshot() (total, dropped, cursor int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.dropped, s.cursor
}
