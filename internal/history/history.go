package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of run event.
type EventType string

const (
	// EventRun is emitted for every report accepted into the statistics store.
	EventRun EventType = "run"
	// EventSkipped is emitted when a report was dropped because the client
	// has duplicate entries in the statistics file.
	EventSkipped EventType = "skipped"
)

// Event is one ingested client run, exported to external systems.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Client     string    `json:"client"`
	State      string    `json:"state"`
	Clean      bool      `json:"clean"`
	Action     string    `json:"action"`
	Records    int       `json:"records"`
}

// NewEvent fills ID and OccurredAt (UTC).
func NewEvent(t EventType, occurredAt time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: occurredAt.UTC()}
}

// Sink is a destination for run events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
