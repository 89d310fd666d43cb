package bus

import (
	"context"
	"sync"
	"time"

	"autoreply/pkg/rules"
)

type EventType string

const (
	EventStateChanged     EventType = "state_changed"
	EventQRReady          EventType = "qr_ready"
	EventQRCleared        EventType = "qr_cleared"
	EventRulesChanged     EventType = "rules_changed"
	EventRuleSaveResult   EventType = "rule_save_result"
	EventRuleDeleteResult EventType = "rule_delete_result"
	EventPauseChanged     EventType = "pause_changed"
	EventLogLine          EventType = "log_line"
)

// Event is one UI notification. Only the fields relevant to Type are set.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`

	// state_changed
	State  string `json:"state,omitempty"`
	Detail string `json:"detail,omitempty"`

	// qr_ready
	QR string `json:"qr,omitempty"`

	// pause_changed
	Paused bool `json:"paused"`

	// rule_save_result, rule_delete_result
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	// rules_changed, and successful save/delete results
	Rules rules.RuleSet `json:"rules,omitempty"`

	// log_line
	Level string `json:"level,omitempty"`
	Text  string `json:"text,omitempty"`
}

// LogLine builds a log_line event.
func LogLine(level string, text string) Event {
	return Event{Type: EventLogLine, Level: level, Text: text}
}

func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()

	for _, ch := range mb.eventSubscribers {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if eventCh, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
