package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	log, err := New(Options{Level: "debug", Format: "json", File: path, Quiet: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debugw("chunked document", "chunks", 4)
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"chunks":4`) {
		t.Fatalf("expected structured field in log, got %s", data)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(Options{Level: "warn", Format: "json", File: path, Quiet: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Infow("hidden")
	log.Warnw("shown")
	_ = log.Sync()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Fatalf("unexpected log content: %s", data)
	}
}

func TestNew_NoSinksIsNop(t *testing.T) {
	log, err := New(Options{Quiet: true})
	if err != nil || log == nil {
		t.Fatalf("expected nop logger, got %v %v", log, err)
	}
	log.Infow("discarded")
}
