package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{" none ", LevelNone},
		{"off", LevelNone},
		{"invalid", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "guise.log")

	logger, err := New(LevelInfo, logPath, "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Info("test message")
	logger.Debug("should not appear")
	logger.Close()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	contentStr := string(content)

	if !strings.Contains(contentStr, "[INFO] [test] test message") {
		t.Errorf("Log file missing info message, got: %s", contentStr)
	}
	if strings.Contains(contentStr, "should not appear") {
		t.Errorf("Log file contains debug message when level is INFO")
	}
}

func TestWithPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriter(LevelInfo, &buf, "parent")
	child := parent.WithPrefix("child")

	child.Debug("hidden")
	parent.SetLevel(LevelDebug)
	child.Debug("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line logged before level change: %s", out)
	}
	if !strings.Contains(out, "[parent:child] visible") {
		t.Errorf("missing combined prefix, got: %s", out)
	}
}

func TestLoggerDisabled(t *testing.T) {
	logger, err := New(LevelNone, "", "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Debug("debug")
	logger.Error("error")
}

func TestGlobalLogger(t *testing.T) {
	if Global() == nil {
		t.Fatal("Global() returned nil")
	}

	var buf bytes.Buffer
	previous := Global()
	SetGlobal(NewWriter(LevelWarn, &buf, ""))
	defer SetGlobal(previous)

	Info("quiet")
	Warn("loud %d", 1)

	if strings.Contains(buf.String(), "quiet") {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "[WARN] loud 1") {
		t.Errorf("warn line missing: %s", buf.String())
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	log := Slog(NewWriter(LevelDebug, &buf, "rpc"))

	log.With("conn", "c1").WithGroup("req").Info("served", "method", "edit")

	if !strings.Contains(buf.String(), "[rpc] served conn=c1 req.method=edit") {
		t.Errorf("unexpected slog output: %s", buf.String())
	}
}
