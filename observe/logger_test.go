package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "stored entry",
		Field{Key: "key", Value: "search:q"},
		Field{Key: "namespace", Value: "public"},
	)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry["msg"] != "stored entry" || entry["level"] != "info" {
		t.Errorf("entry = %v", entry)
	}
	if entry["key"] != "search:q" || entry["namespace"] != "public" {
		t.Errorf("fields missing: %v", entry)
	}
	if entry["timestamp"] == nil {
		t.Error("timestamp missing")
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	logger.Debug(context.Background(), "dropped")
	logger.Info(context.Background(), "dropped too")
	logger.Warn(context.Background(), "kept")
	logger.Error(context.Background(), "kept too")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0]["msg"] != "kept" || entries[1]["msg"] != "kept too" {
		t.Errorf("wrong entries survived the filter: %v", entries)
	}
}

func TestLoggerRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "cache store",
		Field{Key: "value", Value: map[string]any{"ssn": "123"}},
		Field{Key: "args", Value: "query=secret things"},
		Field{Key: "token", Value: "eyJhbGc"},
		Field{Key: "key", Value: "safe"},
	)

	entry := decodeLines(t, &buf)[0]
	for _, k := range []string{"value", "args", "token"} {
		if entry[k] != "[REDACTED]" {
			t.Errorf("%s = %v, want [REDACTED]", k, entry[k])
		}
	}
	if entry["key"] != "safe" {
		t.Errorf("non-sensitive field should pass through, got %v", entry["key"])
	}
}

func TestLoggerWithCache(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).WithCache("search_results")

	logger.Info(context.Background(), "hit")

	entry := decodeLines(t, &buf)[0]
	if entry["cache.name"] != "search_results" {
		t.Errorf("cache.name = %v", entry["cache.name"])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
