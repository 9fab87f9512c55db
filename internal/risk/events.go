package risk

import (
	"context"
	"time"
)

// EventType names an engine lifecycle or state event.
type EventType string

const (
	EventStarted        EventType = "started"
	EventStopped        EventType = "stopped"
	EventSignalIngested EventType = "signal_ingested"
	EventStateUpdated   EventType = "state_updated"
)

// Event is emitted by the engine to its Publisher.
type Event struct {
	Type   EventType       `json:"type"`
	At     time.Time       `json:"at"`
	Signal *Signal         `json:"signal,omitempty"`
	States []CorridorState `json:"states,omitempty"`
}

// Publisher receives engine events. Implementations must not block the caller.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
