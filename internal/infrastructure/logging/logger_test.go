package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/nerrad567/graywave-core/internal/infrastructure/config"
)

func decodeEntry(t *testing.T, line []byte) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("failed to parse JSON output %q: %v", line, err)
	}
	return entry
}

func TestNewWithWriter_JSONDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3", &buf)

	logger.Info("decoder started", "decoder", "dumphfdl")

	entry := decodeEntry(t, buf.Bytes())
	if entry["msg"] != "decoder started" {
		t.Errorf("msg = %v, want decoder started", entry["msg"])
	}
	if entry["service"] != "graywave" {
		t.Errorf("service = %v, want graywave", entry["service"])
	}
	if entry["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", entry["version"])
	}
	if entry["decoder"] != "dumphfdl" {
		t.Errorf("decoder = %v, want dumphfdl", entry["decoder"])
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "TEXT"}, "dev", &buf)

	logger.Debug("kiss frame", "bytes", 42)

	out := buf.String()
	if !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "bytes=42") {
		t.Errorf("text output = %q", out)
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, "dev", &buf)

	logger.Info("dropped")
	logger.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d entries, want 1: %q", len(lines), buf.String())
	}
	if entry := decodeEntry(t, []byte(lines[0])); entry["msg"] != "kept" {
		t.Errorf("msg = %v, want kept", entry["msg"])
	}
}

func TestRedactsSecrets(t *testing.T) {
	tests := []struct {
		key      string
		redacted bool
	}{
		{"password", true},
		{"Password", true},
		{"aprs_igate_password", true},
		{"passcode", true},
		{"callsign", false},
		{"aprs_igate_server", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(config.LoggingConfig{Format: "json"}, "dev", &buf)

			logger.Info("igate login", tt.key, "12345")

			entry := decodeEntry(t, buf.Bytes())
			want := "12345"
			if tt.redacted {
				want = redacted
			}
			if entry[tt.key] != want {
				t.Errorf("%s = %v, want %v", tt.key, entry[tt.key], want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{
			name:     "debug level",
			input:    "debug",
			expected: slog.LevelDebug,
		},
		{
			name:     "info level",
			input:    "info",
			expected: slog.LevelInfo,
		},
		{
			name:     "warn level",
			input:    "warn",
			expected: slog.LevelWarn,
		},
		{
			name:     "warning level",
			input:    "warning",
			expected: slog.LevelWarn,
		},
		{
			name:     "error level",
			input:    "error",
			expected: slog.LevelError,
		},
		{
			name:     "unknown defaults to info",
			input:    "unknown",
			expected: slog.LevelInfo,
		},
		{
			name:     "empty defaults to info",
			input:    "",
			expected: slog.LevelInfo,
		},
		{
			name:     "case insensitive",
			input:    "DEBUG",
			expected: slog.LevelDebug,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogger_WithAndDecoder(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Format: "json"}, "dev", &buf)

	child := logger.Decoder("direwolf").With("component", "kiss")
	if child == logger {
		t.Fatal("expected child logger to be different from parent")
	}
	child.Info("connected", "password", "secret")

	entry := decodeEntry(t, buf.Bytes())
	if entry["decoder"] != "direwolf" || entry["component"] != "kiss" {
		t.Errorf("entry = %v, want decoder=direwolf component=kiss", entry)
	}
	if entry["password"] != redacted {
		t.Errorf("password = %v, want it redacted in child loggers", entry["password"])
	}
	if entry["service"] != "graywave" {
		t.Errorf("service = %v, want graywave", entry["service"])
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
}

func TestOutputFor(t *testing.T) {
	if outputFor("stderr") != os.Stderr || outputFor("STDERR") != os.Stderr {
		t.Error("stderr not selected")
	}
	if outputFor("stdout") != os.Stdout || outputFor("") != os.Stdout {
		t.Error("stdout is not the default")
	}
}

func TestLineWriter_SplitsLines(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	w := NewLineWriter(base, slog.LevelInfo, "process output", "name", "direwolf")

	if _, err := w.Write([]byte("Dire Wolf version 1.7\nReady to accept KISS")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if _, err := w.Write([]byte(" TCP client application 0 on port 8001 ...\n\n")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log entries, want 2: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if entry["line"] != "Ready to accept KISS TCP client application 0 on port 8001 ..." {
		t.Errorf("line = %v", entry["line"])
	}
	if entry["name"] != "direwolf" {
		t.Errorf("name = %v, want direwolf", entry["name"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
}

func TestLineWriter_CloseFlushesPartialLine(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	w := NewLineWriter(base, slog.LevelInfo, "process output")
	_, _ = w.Write([]byte("no newline"))

	if buf.Len() != 0 {
		t.Fatalf("partial line logged before Close: %q", buf.String())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !strings.Contains(buf.String(), "no newline") {
		t.Errorf("expected partial line after Close, got %q", buf.String())
	}
}
