package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	if _, err := New("info", "xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := New("info", "text"); err != nil {
		t.Errorf("New() error = %v", err)
	}
}

func TestSlogLogger_JSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newSlogLogger(&buf, slog.LevelInfo, "json").With("batch_id", "b-1")

	logger.Debug("hidden")
	logger.Info("Job succeeded", "job_id", "j-1", "attempts", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["msg"] != "Job succeeded" || entry["batch_id"] != "b-1" || entry["job_id"] != "j-1" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if ts, ok := entry["time"].(string); !ok || !strings.HasSuffix(ts, "Z") {
		t.Errorf("time = %v, want UTC timestamp", entry["time"])
	}
}

func TestSlogLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newSlogLogger(&buf, slog.LevelDebug, "text")

	logger.Debug("Attempt started", "attempt", 1)

	if !strings.Contains(buf.String(), "msg=\"Attempt started\"") || !strings.Contains(buf.String(), "attempt=1") {
		t.Errorf("unexpected text output: %q", buf.String())
	}
}
