package bot

import (
	"fmt"
	"log/slog"

	"autoreply/pkg/connection"
	"autoreply/pkg/dispatch"
	"autoreply/pkg/rules"
	"autoreply/pkg/transport"
)

// attachMessageHandler registers the single message handler for t before it
// initializes. Messages that arrive ahead of Connected are rejected by
// rejectReason; those emitted after ready queue behind it in the mailbox.
func (c *Controller) attachMessageHandler(t transport.Transport, generation uint64) {
	t.Off(transport.EventMessage)
	t.On(transport.EventMessage, func(event transport.Event) {
		if event.Message == nil {
			return
		}
		msg := *event.Message
		c.post(func() { c.handleMessage(generation, msg) })
	})
}

func (c *Controller) detachMessageHandler(t transport.Transport) {
	t.Off(transport.EventMessage)
}

// handleMessage evaluates one inbound message against the active rules.
func (c *Controller) handleMessage(generation uint64, msg transport.IncomingMessage) {
	if !c.manager.Current(generation) {
		c.metrics.ObserveMessage("stale")
		return
	}

	if reason := c.rejectReason(msg); reason != "" {
		c.metrics.ObserveMessage(reason)
		c.log.Debug("Message not evaluated", "reason", reason, "sender", msg.SenderID)
		return
	}

	rule, ok := rules.Match(msg.Body, c.store.Snapshot())
	if !ok {
		c.metrics.ObserveMessage("unmatched")
		c.log.Debug("No rule matched", "sender", msg.SenderID)
		return
	}
	c.metrics.ObserveMessage("matched")
	c.metrics.ObserveMatch(rule.ForwardsLead())

	sender := c.manager.Transport()
	if rule.HasResponse() {
		c.dispatcher.SendReply(sender, msg.ReplyTo(), *rule.Response)
	}
	if rule.ForwardsLead() {
		prefix := rule.ForwardPrefix
		if prefix == "" {
			prefix = c.forwardPrefix
		}
		payload := dispatch.FormatForward(prefix, msg.SenderIdentity(), msg.Body)
		c.dispatcher.SendForward(sender, rule.ForwardTarget, payload)
	}
}

func (c *Controller) rejectReason(msg transport.IncomingMessage) string {
	switch {
	case msg.FromSelf:
		return "self"
	case msg.GroupOrStatus:
		return "group"
	case c.manager.Paused():
		return "paused"
	case c.manager.State() != connection.Connected:
		return "not_connected"
	default:
		return ""
	}
}

// reportSend runs on the send goroutine; it only touches goroutine-safe
// collaborators.
func (c *Controller) reportSend(result dispatch.Result) {
	if result.Err != nil {
		c.logLine(slog.LevelError, fmt.Sprintf("Failed to send %s to %s: %v", result.Send.Purpose, result.Send.Recipient, result.Err))
		return
	}

	c.logLine(slog.LevelInfo, fmt.Sprintf("Sent %s to %s", result.Send.Purpose, result.Send.Recipient))
}
