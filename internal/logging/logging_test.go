package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTo_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithJobID(NewLoggerTo(&buf, "info"), "job-1")
	logger.Debug("hidden")
	logger.Info("visible", "k", "v")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not a single JSON line: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "visible" {
		t.Errorf("msg = %v, want visible", entry["msg"])
	}
	if entry["job_id"] != "job-1" {
		t.Errorf("job_id = %v, want job-1", entry["job_id"])
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("short"); got != "****" {
		t.Errorf("SanitizeToken(short) = %q", got)
	}
	if got := SanitizeToken("abcdefghijkl"); got != "abcd...ijkl" {
		t.Errorf("SanitizeToken = %q, want abcd...ijkl", got)
	}
}

func TestSanitizeURL(t *testing.T) {
	if got := SanitizeURL("https://cdn.example/v.mp4?token=secret"); got != "https://cdn.example/v.mp4?..." {
		t.Errorf("SanitizeURL = %q", got)
	}
	if got := SanitizeURL("https://cdn.example/v.mp4"); got != "https://cdn.example/v.mp4" {
		t.Errorf("SanitizeURL = %q", got)
	}
}
