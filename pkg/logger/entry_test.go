package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"autoreply/pkg/config"
)

func decodeEntry(t *testing.T, out *bytes.Buffer) LogEntry {
	t.Helper()

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.String())), &entry); err != nil {
		t.Fatalf("unmarshal log entry %q: %v", out.String(), err)
	}

	return entry
}

func TestEntryPromotesBotAttributes(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json", Level: "debug"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.With("component", "channel.telegram", "transport", "telegram").
		Info("Received message", "sender_id", "42", "state", "connected", "chat_id", int64(7))

	entry := decodeEntry(t, &out)
	if entry.Component != "channel.telegram" || entry.Transport != "telegram" {
		t.Fatalf("component/transport = %q/%q, want channel.telegram/telegram", entry.Component, entry.Transport)
	}
	if entry.Sender != "42" {
		t.Fatalf("sender = %q, want 42", entry.Sender)
	}
	if entry.State != "connected" {
		t.Fatalf("state = %q, want connected", entry.State)
	}
	if _, ok := entry.Fields["sender_id"]; ok {
		t.Fatalf("fields = %v, sender_id should be promoted", entry.Fields)
	}
	if got := entry.Fields["chat_id"]; got != float64(7) {
		t.Fatalf("fields.chat_id = %v, want 7", got)
	}
}

func TestEntryRendersErrorsAndGroups(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.WithGroup("send").Error("Failed to send reply", "error", errors.New("chat not found"), "recipient", "99")

	entry := decodeEntry(t, &out)
	if got := entry.Fields["send.error"]; got != "chat not found" {
		t.Fatalf("fields[send.error] = %v, want the error text", got)
	}
	if entry.Recipient != "" {
		t.Fatalf("recipient = %q, grouped attributes stay in fields", entry.Recipient)
	}
	if got := entry.Fields["send.recipient"]; got != "99" {
		t.Fatalf("fields[send.recipient] = %v, want 99", got)
	}
}
