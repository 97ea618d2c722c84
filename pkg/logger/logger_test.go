package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"linklog/pkg/config"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	Component(log, "dispatch.processor").Info("URL logged", "workspace", "teamA", "rows", 1, "error", errors.New("none"))

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.String())), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	if entry.Level != "info" {
		t.Fatalf("level = %q, want %q", entry.Level, "info")
	}
	if entry.Component != "dispatch.processor" {
		t.Fatalf("component = %q, want %q", entry.Component, "dispatch.processor")
	}
	if entry.Workspace != "teamA" {
		t.Fatalf("workspace = %q, want %q", entry.Workspace, "teamA")
	}
	if entry.Timestamp == "" {
		t.Fatal("expected timestamp")
	}
	if got := entry.Fields["rows"]; got != float64(1) {
		t.Fatalf("fields.rows = %v, want 1", got)
	}
	if got := entry.Fields["error"]; got != "none" {
		t.Fatalf("fields.error = %v, want %q", got, "none")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
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

func TestLoggerTraceLevel(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "trace"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Log(t.Context(), LevelTrace, "Raw event")

	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry.Level != "trace" {
		t.Fatalf("level = %q, want trace", entry.Level)
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	t.Setenv(envLevel, "debug")
	t.Setenv(envFormat, "text")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
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

func TestLoggerRejectsUnknownFormat(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestVerbosity(t *testing.T) {
	cases := []struct {
		verbose, debug, trace bool
		want                  string
	}{
		{want: "warn"},
		{verbose: true, want: "info"},
		{verbose: true, debug: true, want: "debug"},
		{debug: true, trace: true, want: "trace"},
	}

	for _, tc := range cases {
		if got := Verbosity("warn", tc.verbose, tc.debug, tc.trace); got != tc.want {
			t.Fatalf("Verbosity(%v,%v,%v) = %q, want %q", tc.verbose, tc.debug, tc.trace, got, tc.want)
		}
	}
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envLevel, "")
	t.Setenv(envFormat, "")
	t.Setenv(envAddSource, "")
	_ = os.Unsetenv(envLevel)
	_ = os.Unsetenv(envFormat)
	_ = os.Unsetenv(envAddSource)
}
