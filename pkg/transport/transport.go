// Package transport defines the messaging-session capability the bot drives:
// initialize, subscribe to lifecycle and message events, send, destroy.
package transport

import (
	"context"
	"strings"
	"time"
)

// EventKind identifies one transport event stream.
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventLoading       EventKind = "loading"
	EventReady         EventKind = "ready"
	EventAuthFailure   EventKind = "auth_failure"
	EventDisconnected  EventKind = "disconnected"
	EventMessage       EventKind = "message"
)

// LifecycleEvents are the kinds the connection manager subscribes to.
var LifecycleEvents = []EventKind{
	EventQR,
	EventAuthenticated,
	EventLoading,
	EventReady,
	EventAuthFailure,
	EventDisconnected,
}

// Event is one notification from a transport instance.
type Event struct {
	Kind EventKind
	// QR is the opaque pairing payload for EventQR.
	QR string
	// Detail carries the failure/disconnect reason, or a progress label.
	Detail  string
	Percent int
	Message *IncomingMessage
}

// IncomingMessage is one inbound chat message.
type IncomingMessage struct {
	ID         string
	SenderID   string
	SenderName string
	// ChatID is the conversation the message arrived in. Replies go there.
	ChatID        string
	Body          string
	FromSelf      bool
	GroupOrStatus bool
	Timestamp     time.Time
}

// ReplyTo returns the recipient for a direct reply.
func (m IncomingMessage) ReplyTo() string {
	if chat := strings.TrimSpace(m.ChatID); chat != "" {
		return chat
	}

	return m.SenderID
}

// SenderIdentity renders the sender for forwarded payloads.
func (m IncomingMessage) SenderIdentity() string {
	name := strings.TrimSpace(m.SenderName)
	if name == "" || name == m.SenderID {
		return m.SenderID
	}

	return name + " (" + m.SenderID + ")"
}

// Handler receives transport events. Implementations call handlers from
// their own goroutines; handlers must not block for long.
type Handler func(Event)

// Transport is one messaging-session client instance. A new instance is
// created for every connection attempt and is unusable after Destroy.
type Transport interface {
	Name() string
	On(kind EventKind, handler Handler)
	// Off removes every handler for the given kinds, or all handlers when
	// called without arguments.
	Off(kinds ...EventKind)
	// Initialize connects the session. Progress is reported through events;
	// an error return means the attempt failed.
	Initialize(ctx context.Context) error
	Send(ctx context.Context, recipient string, text string) error
	Destroy(ctx context.Context) error
}

// Factory creates a fresh transport instance.
type Factory func() (Transport, error)
