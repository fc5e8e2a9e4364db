package analytics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"mmassist/internal/domain"
)

func TestRecord_CountsAndPersists(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := New(Config{Dir: dir, Logger: zaptest.NewLogger(t).Sugar(), Now: func() time.Time { return clock }})

	tr.Record(domain.EventMessage)
	tr.Record(domain.EventMessage)
	tr.Record(domain.EventImageGenerated)
	tr.Record(domain.EventMessage)

	snap := tr.Snapshot()
	if snap.TotalMessages != 3 || snap.ImagesGenerated != 1 || snap.DocumentsProcessed != 0 || snap.AudioProcessed != 0 {
		t.Fatalf("unexpected counters %+v", snap)
	}

	raw, err := os.ReadFile(filepath.Join(dir, File))
	if err != nil {
		t.Fatalf("analytics not saved: %v", err)
	}
	var onDisk map[string]any
	json.Unmarshal(raw, &onDisk)
	for _, key := range []string{"total_messages", "images_generated", "documents_processed", "audio_processed", "sessions", "last_updated"} {
		if _, ok := onDisk[key]; !ok {
			t.Errorf("missing key %q in %s", key, raw)
		}
	}
	if onDisk["total_messages"].(float64) != 3 {
		t.Fatalf("unexpected total_messages on disk: %v", onDisk["total_messages"])
	}

	reloaded := New(Config{Dir: dir})
	if got := reloaded.Snapshot(); got.TotalMessages != 3 || got.ImagesGenerated != 1 {
		t.Fatalf("counters not reloaded: %+v", got)
	}
}

func TestRecord_UnknownEventOnlyTouchesTimestamp(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New(Config{Dir: t.TempDir(), Now: func() time.Time { return clock }})
	before := tr.Snapshot()

	clock = clock.Add(time.Hour)
	tr.Record("video_processed")

	after := tr.Snapshot()
	if after.TotalMessages != before.TotalMessages || after.ImagesGenerated != before.ImagesGenerated ||
		after.DocumentsProcessed != before.DocumentsProcessed || after.AudioProcessed != before.AudioProcessed {
		t.Fatalf("unknown event changed counters: %+v", after)
	}
	if !after.LastUpdated.Equal(clock) {
		t.Fatalf("last_updated = %v, want %v", after.LastUpdated, clock)
	}
}

func TestNew_CorruptFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, File), []byte("[oops"), 0o644)
	tr := New(Config{Dir: dir, Logger: zaptest.NewLogger(t).Sugar()})
	if snap := tr.Snapshot(); snap.TotalMessages != 0 || snap.Sessions == nil {
		t.Fatalf("expected defaults, got %+v", snap)
	}
}

func TestTrackSession(t *testing.T) {
	tr := New(Config{Dir: t.TempDir()})
	tr.TrackSession("cli:default")
	tr.TrackSession("cli:default")
	tr.TrackSession("telegram:42")
	if s := tr.Snapshot().Sessions; len(s) != 2 {
		t.Fatalf("expected 2 sessions, got %v", s)
	}
}
