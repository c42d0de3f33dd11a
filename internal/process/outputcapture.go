package process

import "sync"

// outputCapture accumulates a stream's text up to a character cap, dropping
// the oldest runes and flagging truncation once the cap is exceeded. It is
// the foreground-run analogue of the background session's ring-buffered
// stream state (see spec §3 "Stream state"); a one-shot run never needs a
// read cursor, only the final capped text.
type outputCapture struct {
	mu        sync.Mutex
	maxChars  int
	runes     []rune
	truncated bool
}

func newOutputCapture(maxChars int) *outputCapture {
	if maxChars <= 0 {
		maxChars = 300000
	}
	return &outputCapture{maxChars: maxChars}
}

func (c *outputCapture) write(s string) {
	if s == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runes = append(c.runes, []rune(s)...)
	if len(c.runes) > c.maxChars {
		overflow := len(c.runes) - c.maxChars
		c.runes = c.runes[overflow:]
		c.truncated = true
	}
}

func (c *outputCapture) result() (text string, truncated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.runes), c.truncated
}
