package history

import (
	"context"
	"time"
)

// EventType defines the kind of deployment event.
type EventType string

const (
	EventCheckout EventType = "checkout"
	EventInstall  EventType = "install"
	EventStop     EventType = "stop"
	EventStart    EventType = "start"
	EventFailed   EventType = "failed"
)

// Record is the payload of a deployment event. Fields that do not apply to
// an event type are left zero.
type Record struct {
	Port        int    `json:"port"`
	PID         int    `json:"pid,omitempty"`
	PreviousPID int    `json:"previous_pid,omitempty"`
	Command     string `json:"command,omitempty"`
	Revision    string `json:"revision,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Event is one entry of the deployment history.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Lister is implemented by sinks that can read their history back,
// newest first.
type Lister interface {
	List(ctx context.Context, limit int) ([]Event, error)
}

// Nop discards events. It is the sink used when no history DSN is configured.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }
