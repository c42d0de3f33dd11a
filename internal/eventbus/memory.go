package eventbus

import (
	"context"
	"strings"
	"sync"

	"github.com/crabmiau/loaf/internal/logger"
	"go.uber.org/zap"
)

// MemoryBus is the default, in-process Bus implementation: a single
// process hosting every session (spec.md §1) never needs cross-process
// fan-out unless NATS is explicitly configured (see NATSBus).
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	logger *logger.Logger
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	handler Handler
	mu      sync.Mutex
	active  bool
}

func (s *memorySub) Unsubscribe() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		subs:   make(map[string][]*memorySub),
		logger: log.WithFields(zap.String("component", "eventbus.memory")),
	}
}

// Publish delivers event to every subscription whose subject pattern
// matches, where a trailing ".>" wildcard segment matches any suffix (the
// same convention the teacher's NATS-backed bus exposes, so switching
// transports never changes subject design).
func (b *MemoryBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}
	for pattern, subs := range b.subs {
		if !subjectMatches(subject, pattern) {
			continue
		}
		for _, sub := range subs {
			sub.mu.Lock()
			active := sub.active
			sub.mu.Unlock()
			if !active {
				continue
			}
			if err := sub.handler(ctx, event); err != nil {
				b.logger.Warn("eventbus handler error", zap.String("subject", subject), zap.Error(err))
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBusClosed
	}
	sub := &memorySub{bus: b, subject: subject, handler: handler, active: true}
	b.subs[subject] = append(b.subs[subject], sub)
	return sub, nil
}

func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]*memorySub)
}

func (b *MemoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func subjectMatches(subject, pattern string) bool {
	if pattern == subject {
		return true
	}
	if strings.HasSuffix(pattern, ".>") {
		prefix := strings.TrimSuffix(pattern, ".>")
		return subject == prefix || strings.HasPrefix(subject, prefix+".")
	}
	return false
}

type busClosedErr struct{}

func (busClosedErr) Error() string { return "event bus is closed" }

var errBusClosed = busClosedErr{}
