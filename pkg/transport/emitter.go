package transport

import "sync"

// Emitter is a goroutine-safe handler registry adapters embed to satisfy
// On/Off. The zero value is ready to use.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventKind][]Handler
}

func (e *Emitter) On(kind EventKind, handler Handler) {
	if handler == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[EventKind][]Handler)
	}
	e.handlers[kind] = append(e.handlers[kind], handler)
}

func (e *Emitter) Off(kinds ...EventKind) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(kinds) == 0 {
		e.handlers = nil
		return
	}
	for _, kind := range kinds {
		delete(e.handlers, kind)
	}
}

// Emit calls every handler registered for event.Kind, in registration order.
func (e *Emitter) Emit(event Event) {
	e.mu.RLock()
	handlers := append([]Handler(nil), e.handlers[event.Kind]...)
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// ListenerCount returns the number of handlers registered for kind.
func (e *Emitter) ListenerCount(kind EventKind) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.handlers[kind])
}
