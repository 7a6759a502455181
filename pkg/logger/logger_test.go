package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newFileLogger(t *testing.T, level, format string) (Logger, string) {
	t.Helper()

	logFile := filepath.Join(t.TempDir(), "monitor.log")
	log, err := New(Config{Level: level, Output: logFile, Format: format})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if closeErr := log.Close(); closeErr != nil {
			t.Errorf("Close() error = %v", closeErr)
		}
	})
	return log, logFile
}

func readLog(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path) // nolint:gosec
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(data)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"text on stderr", Config{Level: "info", Output: "stderr", Format: "text"}, false},
		{"json on stdout", Config{Level: "debug", Output: "stdout", Format: "json"}, false},
		{"unknown level", Config{Level: "verbose"}, true},
		{"unknown format", Config{Format: "xml"}, true},
		{"unwritable file", Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Error("New() error = nil, wantErr = true")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if log == nil {
				t.Fatal("New() returned nil")
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	log, path := newFileLogger(t, "warn", "text")

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message")

	content := readLog(t, path)

	if strings.Contains(content, "debug message") {
		t.Error("Debug message should be filtered out")
	}
	if strings.Contains(content, "info message") {
		t.Error("Info message should be filtered out")
	}
	if !strings.Contains(content, "warn message") {
		t.Error("Warn message not found")
	}
	if !strings.Contains(content, "error message") {
		t.Error("Error message not found")
	}
}

func TestWithAddsFields(t *testing.T) {
	log, path := newFileLogger(t, "info", "text")

	log.With("component", "engine").Info("tick complete", "events", 3)

	content := readLog(t, path)
	for _, want := range []string{"tick complete", "component=engine", "events=3"} {
		if !strings.Contains(content, want) {
			t.Errorf("log output missing %q: %s", want, content)
		}
	}
}

func TestJSONOutput(t *testing.T) {
	log, path := newFileLogger(t, "info", "json")

	log.Info("block sealed", "block", "2024-01-15T10:00:00Z", "tokens", 42)

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(readLog(t, path)), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	if msg, ok := entry["msg"].(string); !ok || msg != "block sealed" {
		t.Errorf("msg = %v, want block sealed", entry["msg"])
	}
	if tokens, ok := entry["tokens"].(float64); !ok || tokens != 42 {
		t.Errorf("tokens = %v, want 42", entry["tokens"])
	}
}

func TestFromWriter(t *testing.T) {
	var buf bytes.Buffer
	log := FromWriter(&buf, slog.LevelDebug)

	log.Debug("fetch", "records", 7)

	if !strings.Contains(buf.String(), "records=7") {
		t.Errorf("output = %q, want records=7", buf.String())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "close.log")
	log, err := New(Config{Output: logFile})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := log.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := log.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := Default().Close(); err != nil {
		t.Errorf("Default().Close() error = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{" WaRn ", slog.LevelWarn, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := ParseLevel(tt.level)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownLevel) {
					t.Errorf("ParseLevel(%q) error = %v, want ErrUnknownLevel", tt.level, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q) error = %v", tt.level, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestNoop(t *testing.T) {
	log := Noop()

	log.Debug("debug")
	log.Info("info")
	log.Warn("warn")
	log.Error("error")
	log.With("k", "v").Info("still discarded")
}

func BenchmarkLogWithFields(b *testing.B) {
	log := Noop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.Info("tick", "events", 12, "burn_rate", 101.5, "stale", false)
	}
}
