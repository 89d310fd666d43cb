package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"autoreply/pkg/config"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.With("component", "connection.manager").Info("Connection state changed", "to", "connected", "ok", true)

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	if entry.Level != "info" {
		t.Fatalf("level = %q, want %q", entry.Level, "info")
	}
	if entry.Message != "Connection state changed" {
		t.Fatalf("message = %q, want %q", entry.Message, "Connection state changed")
	}
	if entry.Component != "connection.manager" {
		t.Fatalf("component = %q, want %q", entry.Component, "connection.manager")
	}
	if entry.Timestamp == "" {
		t.Fatal("expected timestamp")
	}
	if got := entry.Fields["to"]; got != "connected" {
		t.Fatalf("fields.to = %v, want %q", got, "connected")
	}
	if got := entry.Fields["ok"]; got != true {
		t.Fatalf("fields.ok = %v, want true", got)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	t.Setenv("AUTOREPLY_LOG_LEVEL", "debug")
	t.Setenv("AUTOREPLY_LOG_FORMAT", "text")
	defer unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	_ = os.Unsetenv("AUTOREPLY_LOG_LEVEL")
	_ = os.Unsetenv("AUTOREPLY_LOG_FORMAT")
	_ = os.Unsetenv("AUTOREPLY_LOG_ADD_SOURCE")
	_ = os.Unsetenv("AUTOREPLY_LOG_FILE")
}

func TestLoggerWritesToConfiguredFile(t *testing.T) {
	unsetLoggingEnv(t)

	path := filepath.Join(t.TempDir(), "logs", "autoreply.log")
	log, err := New(config.LoggingConfig{Format: "json", File: path})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	log.Warn("Transport destroy failed", "component", "connection.manager")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), `"message":"Transport destroy failed"`) {
		t.Fatalf("log file = %q, want the warning entry", content)
	}
}

func TestLoggerDiscardWriter(t *testing.T) {
	unsetLoggingEnv(t)

	log, err := NewWithWriter(config.LoggingConfig{Level: "debug"}, io.Discard)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}
	log.Debug("dropped")
}

func TestLoggerRejectsUnknownSettings(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := NewWithWriter(config.LoggingConfig{Format: "xml"}, io.Discard); err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if _, err := NewWithWriter(config.LoggingConfig{Level: "trace"}, io.Discard); err == nil {
		t.Fatal("expected error for unsupported level")
	}
}

func TestOutputPathPrefersEnvironment(t *testing.T) {
	unsetLoggingEnv(t)

	if got := OutputPath(config.LoggingConfig{}); got != "" {
		t.Fatalf("OutputPath = %q, want empty", got)
	}
	if got := OutputPath(config.LoggingConfig{File: " bot.log "}); got != "bot.log" {
		t.Fatalf("OutputPath = %q, want bot.log", got)
	}

	t.Setenv("AUTOREPLY_LOG_FILE", "/tmp/env.log")
	if got := OutputPath(config.LoggingConfig{File: "bot.log"}); got != "/tmp/env.log" {
		t.Fatalf("OutputPath = %q, want env override", got)
	}
}
