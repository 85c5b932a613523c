package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"Warning": zapcore.WarnLevel,
		"ERROR":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "agent.log")

	log, closeFn, err := New(Options{Level: "INFO", File: file, Console: &console})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Named("scheduler").Info("scan complete", zap.String("status", "PASS"))
	log.Debug("hidden")
	closeFn()

	if !strings.Contains(console.String(), "scheduler") || !strings.Contains(console.String(), "scan complete") {
		t.Errorf("console output missing entry: %q", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Error("debug entry written at INFO level")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log file is not JSON lines: %v (%s)", err, data)
	}
	if entry["logger"] != "scheduler" || entry["status"] != "PASS" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNewWithoutSinksIsNop(t *testing.T) {
	log, closeFn, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	log.Info("nowhere")
}
