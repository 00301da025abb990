package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a single occurrence published on the bus.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string

	// Topic is the concrete topic the event was published under.
	Topic Topic

	// Source identifies the emitter (plugin ID or "host").
	Source string

	// Time is when the event was created.
	Time time.Time

	// Data carries event-specific payload fields.
	Data map[string]any
}

// New creates an event with a fresh ID and timestamp.
func New(topic Topic, source string, data map[string]any) Event {
	return Event{
		ID:     uuid.New().String(),
		Topic:  topic,
		Source: source,
		Time:   time.Now(),
		Data:   data,
	}
}

// Get returns a data field, or nil if absent.
func (e Event) Get(key string) any {
	if e.Data == nil {
		return nil
	}
	return e.Data[key]
}

// GetString returns a string data field, or "" if absent or not a string.
func (e Event) GetString(key string) string {
	if s, ok := e.Get(key).(string); ok {
		return s
	}
	return ""
}
