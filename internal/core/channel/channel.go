// Package channel provides the notification plumbing of the dataflow graph:
// synchronous observer channels for slot and widget callbacks, and a buffered
// event queue for consumers that poll (CLI, tests).
package channel

import (
	"context"
)

// Channel interface for queued event passing
// PRINCIPLES:
// - ISP: Interface segregation with ≤5 methods
// - DIP: Consumers depend on interface, not implementations
type Channel interface {
	// Send enqueues an event
	Send(ctx context.Context, event Event) error

	// Receive dequeues the next event
	Receive(ctx context.Context) (Event, error)

	// Close closes the channel
	Close() error
}

// Event is something that happened to a graph object or the shell.
type Event struct {
	ID      string      `json:"id"`
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventType classifies events
type EventType string

const (
	// EventDirty is fired when data of a slot changed
	EventDirty EventType = "dirty"
	// EventMetaChanged is fired when the meta of a slot changed
	EventMetaChanged EventType = "meta_changed"
	// EventAppletAdded is fired when the shell gained an applet
	EventAppletAdded EventType = "applet_added"
	// EventDrawerSelected is fired when the selected drawer changed
	EventDrawerSelected EventType = "drawer_selected"
	// EventProjectOpened is fired after a project was loaded
	EventProjectOpened EventType = "project_opened"
	// EventProjectSaved is fired after a project was written
	EventProjectSaved EventType = "project_saved"
	// EventImageNames is fired when the image name list changed
	EventImageNames EventType = "image_names"
)

// Validate ensures event integrity
func (e *Event) Validate() error {
	if e.ID == "" {
		return ErrInvalidEventID
	}
	if e.Type == "" {
		return ErrInvalidEventType
	}
	if e.Source == "" {
		return ErrInvalidSource
	}
	return nil
}
