package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOpenOutputStandardStreams(t *testing.T) {
	tests := []struct {
		output string
		want   *os.File
	}{
		{"stdout", os.Stdout},
		{"stderr", os.Stderr},
		{"", os.Stderr},
	}
	for _, tt := range tests {
		w, closer, err := openOutput(tt.output)
		if err != nil {
			t.Fatalf("openOutput(%q): %v", tt.output, err)
		}
		if w != tt.want {
			t.Errorf("openOutput(%q) returned wrong stream", tt.output)
		}
		closer()
	}
}

func TestOpenOutputInvalidPath(t *testing.T) {
	if _, _, err := openOutput("/nonexistent/dir/log.txt"); err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestNewJSONLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	log, closer, err := New(config.LoggerConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("filtered")
	log.Info("routed", "agent", "CartManagerAgent")
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["msg"] != "routed" || entry["agent"] != "CartManagerAgent" {
		t.Errorf("entry = %v", entry)
	}
	if entry["service"] != "shopassist" {
		t.Errorf("service = %v, want shopassist", entry["service"])
	}
}

func TestNewLoggerInvalidOutput(t *testing.T) {
	cfg := config.LoggerConfig{Level: "info", Format: "text", Output: "/nonexistent/dir/app.log"}
	if _, _, err := New(cfg); err == nil {
		t.Error("expected error for invalid output path")
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	l := slog.Default()
	if OrDiscard(l) != l {
		t.Error("OrDiscard should return the given logger")
	}
}

func TestEventSink(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sink := EventSink(l)
	sink(context.Background(), domain.Event{
		Type:      domain.EventEnvelopeCompleted,
		Timestamp: time.Now(),
		SessionID: "s1",
		Payload:   json.RawMessage(`{"message_id":"msg_1"}`),
	})

	out := buf.String()
	if !strings.Contains(out, "envelope.completed") || !strings.Contains(out, "msg_1") {
		t.Errorf("unexpected sink output: %s", out)
	}
}
