package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "chatty"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanout.log")
	log, err := NewLogger(Config{Level: "debug", Format: "json", File: FileConfig{Path: path}})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.Info("task materialized")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "task materialized") {
		t.Fatalf("expected message in log file, got %q", data)
	}
}
