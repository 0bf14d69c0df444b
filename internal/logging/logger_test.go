package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_CreatesDirAndLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	log, err := NewLogger(dir, "debug")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	// Directory should exist
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("log dir missing: %v", err)
	}

	log.Debug("test_message_from_logging_test")
	_ = log.Sync()

	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(b))
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	if m["msg"] != "test_message_from_logging_test" || m["ts"] == nil || m["service"] != Service {
		t.Fatalf("unexpected log entry: %v", m)
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir, "warn")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("dropped")
	_ = log.Sync()
	if b, _ := os.ReadFile(filepath.Join(dir, FileName)); strings.Contains(string(b), "dropped") {
		t.Fatalf("info entry written at warn level")
	}
}

func TestNewLogger_BadLevel(t *testing.T) {
	if _, err := NewLogger(t.TempDir(), "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestNewLogger_ConsoleMirror(t *testing.T) {
	var con syncBuffer
	log, err := NewLogger(t.TempDir(), "info", WithConsole(&con, zapcore.WarnLevel))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("file_only")
	log.Warn("both_sinks")
	_ = log.Sync()

	out := con.String()
	if strings.Contains(out, "file_only") {
		t.Fatalf("info entry reached console: %q", out)
	}
	if !strings.Contains(out, "both_sinks") || !strings.Contains(out, "WARN") {
		t.Fatalf("warn entry missing from console: %q", out)
	}
}
