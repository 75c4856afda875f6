package notify

import (
	"context"
	"time"
)

type EventType string

const (
	EventQueued   EventType = "queued"
	EventStarted  EventType = "started"
	EventFinished EventType = "finished"
	EventFailed   EventType = "failed"
	EventStopped  EventType = "stopped"
)

// Event is a playback lifecycle notification. Delivery is best-effort.
type Event struct {
	Type        EventType `json:"type"`
	Destination int64     `json:"destination"`
	Title       string    `json:"title,omitempty"`
	Position    int       `json:"position,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

type Sender interface {
	Send(ctx context.Context, event Event) error
}
