// Package eventbus fans out the runtime notifications a JSON-RPC frontend
// (out of core scope, spec.md §1) relays to clients: the session manager
// publishes background-session lifecycle transitions and the compaction
// engine publishes pass outcomes, both through a Bus attached with
// SetBus. Adapted from the teacher's internal/events/bus package, trimmed
// to the publish/subscribe shape loaf's single-process fan-out actually
// exercises.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one runtime notification.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a new Event with a fresh id and the current time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, event *Event) error

// Subscription is an active subscription, cancellable by the caller.
type Subscription interface {
	Unsubscribe()
}

// Bus is the fan-out surface the runtime publishes notifications to and a
// frontend (or the debug introspection server) subscribes against.
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
