package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"  warn  ", slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "json", &buf)

	slog.Info("hello", "key", "value")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (got %q)", err, buf.String())
	}
	if record["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", record["msg"])
	}
	if record["key"] != "value" {
		t.Errorf("key = %v, want value", record["key"])
	}
}

func TestSetupTextFormat(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "text", &buf)

	slog.Info("plain message")

	if !strings.Contains(buf.String(), "msg=\"plain message\"") {
		t.Errorf("expected text-format output, got %q", buf.String())
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "json", &buf)

	slog.Debug("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("debug record was not filtered: %q", buf.String())
	}

	Level.Set(slog.LevelDebug)
	slog.Debug("now visible")
	if buf.Len() == 0 {
		t.Error("debug record missing after level change")
	}
}

func TestStdlibBridge(t *testing.T) {
	var buf bytes.Buffer
	SetupWithConfig("info", "json", &buf)

	log.Printf("legacy %s", "message")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("bridged output is not JSON: %v", err)
	}
	if record["msg"] != "legacy message" {
		t.Errorf("msg = %v, want %q", record["msg"], "legacy message")
	}
	if record["source"] != "stdlib" {
		t.Errorf("source = %v, want stdlib", record["source"])
	}
}
