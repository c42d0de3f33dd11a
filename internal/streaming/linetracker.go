package streaming

import (
	"sync"

	"github.com/tuzig/vt10x"
)

// LineTracker feeds drained renderer output into a virtual terminal so a
// frontend can query the rendered grid alongside the raw chunking
// decision, mirroring status_tracker.go's vt10x.New(vt10x.WithSize(...))
// construction.
type LineTracker struct {
	mu         sync.Mutex
	term       vt10x.Terminal
	cols, rows int
}

// NewLineTracker allocates a vt10x screen of the given size.
func NewLineTracker(cols, rows int) *LineTracker {
	if cols <= 0 {
		cols = 120
	}
	if rows <= 0 {
		rows = 36
	}
	return &LineTracker{term: vt10x.New(vt10x.WithSize(cols, rows)), cols: cols, rows: rows}
}

// Write feeds drained bytes into the virtual terminal.
func (lt *LineTracker) Write(data []byte) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	_, _ = lt.term.Write(data)
}

// Lines returns the visible rendered lines.
func (lt *LineTracker) Lines() []string {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lines := make([]string, 0, lt.rows)
	for y := 0; y < lt.rows; y++ {
		var b []rune
		for x := 0; x < lt.cols; x++ {
			g := lt.term.Cell(x, y)
			if g.Char == 0 {
				b = append(b, ' ')
			} else {
				b = append(b, g.Char)
			}
		}
		lines = append(lines, string(b))
	}
	return lines
}

// Resize adjusts the virtual terminal dimensions.
func (lt *LineTracker) Resize(cols, rows int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.term.Resize(cols, rows)
	lt.cols, lt.rows = cols, rows
}
