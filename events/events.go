// Package events provides the in-process task event bus feeding the SSE stream.
package events

import (
	"context"
	"time"

	"github.com/voyagent/voyagent/task"
)

// Event records one task lifecycle transition.
type Event struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"task_id"`
	Kind      task.Kind   `json:"kind"`
	Status    task.Status `json:"status"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handler processes published events.
type Handler func(ctx context.Context, ev *Event) error

// Bus delivers task lifecycle events to subscribers. Polling remains the
// status contract; the bus only backs the optional push channel.
type Bus interface {
	// Publish delivers ev to all current subscribers.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe registers a handler for every published event.
	// Returns an unsubscribe function.
	Subscribe(handler Handler) (unsubscribe func())

	// History returns the most recent limit events in chronological order.
	History(limit int) ([]*Event, error)
}
