package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-voicelab/internal/config"
)

func TestParseLevel(t *testing.T) {
	for _, in := range []string{"debug", "INFO", "", " warn ", "error"} {
		if _, err := parseLevel(in); err != nil {
			t.Fatalf("parseLevel(%q): %v", in, err)
		}
	}
	if _, err := parseLevel("trace"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLoggerWritesFileAndStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "voicelab.log")
	var stdout bytes.Buffer
	logger, closeLog, err := newLogger(config.TelemetryConfig{LogLevel: "warn", LogFile: path}, &stdout)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}

	logger.Info("dropped")
	logger.Warn("kept", "voice", "alice")
	closeLog()

	var rec map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &rec); err != nil {
		t.Fatalf("stdout should hold one JSON record: %v (%q)", err, stdout.String())
	}
	if rec["msg"] != "kept" || rec["voice"] != "alice" {
		t.Fatalf("unexpected record %v", rec)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"kept"`) || strings.Contains(string(data), "dropped") {
		t.Fatalf("unexpected file contents %q", data)
	}
}
