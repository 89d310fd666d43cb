// Package bustest records published notifications for assertions.
package bustest

import (
	"context"
	"sync"

	"autoreply/pkg/bus"
)

// Recorder is a bus.Publisher that keeps every event in order.
type Recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *Recorder) PublishEvent(_ context.Context, event bus.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	return true
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]bus.Event(nil), r.events...)
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(eventType bus.EventType) []bus.Event {
	var out []bus.Event
	for _, event := range r.Events() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}

	return out
}

// Types lists recorded event types, skipping log lines.
func (r *Recorder) Types() []bus.EventType {
	var out []bus.EventType
	for _, event := range r.Events() {
		if event.Type == bus.EventLogLine {
			continue
		}
		out = append(out, event.Type)
	}

	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}
