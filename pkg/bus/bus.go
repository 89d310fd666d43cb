package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

// Publisher is the write side of the bus. Components that only emit
// notifications depend on this instead of the full MessageBus.
type Publisher interface {
	PublishEvent(ctx context.Context, event Event) bool
}

// MessageBus fans out notifications to any number of subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses events.
type MessageBus struct {
	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// Subscribers returns the number of live event subscriptions.
func (mb *MessageBus) Subscribers() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	return len(mb.eventSubscribers)
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
