// Package events carries lifecycle notifications out of the core components
// without coupling them to a transport. Publishers must be lightweight and
// non-blocking.
package events

// Event represents one lifecycle event.
// Minimal and stable: name plus optional key/value fields.
type Event struct {
	Name   string
	Model  string
	Device string
	Fields map[string]any
}

// Publisher receives events from the core. Publish must not panic.
type Publisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// Noop returns a publisher that discards everything.
func Noop() Publisher { return noopPublisher{} }
