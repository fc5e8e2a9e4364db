package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mmassist/internal/config"
	"mmassist/internal/domain"
	"mmassist/internal/vectorstore"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	cfgPath := filepath.Join(src, "config.yaml")
	db := filepath.Join(src, "memory.db")
	os.WriteFile(cfgPath, []byte("profile: development\n"), 0o600)
	os.WriteFile(db, []byte("sqlite"), 0o644)

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, map[string]string{"config.yaml": cfgPath, "memory.db": db}); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	targets := map[string]string{
		"config.yaml": filepath.Join(dst, "conf", "config.yaml"),
		// memory.db has no target and is skipped.
	}
	restored, err := extractTarGz(archive, targets)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 1 || restored[0] != targets["config.yaml"] {
		t.Fatalf("restored = %v", restored)
	}
	data, _ := os.ReadFile(targets["config.yaml"])
	if string(data) != "profile: development\n" {
		t.Errorf("restored content = %q", data)
	}
	if info, _ := os.Stat(targets["config.yaml"]); info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
}

func TestExtractTarGz_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.gz")
	os.WriteFile(path, []byte("plain text"), 0o644)
	if _, err := extractTarGz(path, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestStateFiles(t *testing.T) {
	cfg := config.Defaults()
	cfg.Paths.DataDir = "/data"
	files := stateFiles("/etc/mmassist.yaml", cfg)
	want := map[string]string{
		"config.yaml":         "/etc/mmassist.yaml",
		"memory.db":           "/data/memory.db",
		"analytics.json":      "/data/analytics.json",
		"images/history.json": "/data/generated_images/history.json",
		"index/index.vec":     "/data/vector_db/index.vec",
	}
	for name, path := range want {
		if files[name] != path {
			t.Errorf("%s -> %q, want %q", name, files[name], path)
		}
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.in); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunSetup(t *testing.T) {
	cfg := config.Defaults()
	in := strings.NewReader("/srv/mmassist\n\n123:abc\n 42, 7 \n")
	var out bytes.Buffer
	if err := runSetup(in, &out, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Paths.DataDir != "/srv/mmassist" {
		t.Errorf("data dir = %q", cfg.Paths.DataDir)
	}
	if cfg.OpenAI.APIKey != "${OPENAI_API_KEY}" {
		t.Errorf("empty key should defer to the environment, got %q", cfg.OpenAI.APIKey)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.Token != "123:abc" {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
	if len(cfg.Telegram.AllowFrom) != 2 || cfg.Telegram.AllowFrom[1] != "7" {
		t.Errorf("allowFrom = %v", cfg.Telegram.AllowFrom)
	}
}

func TestRunSetup_Defaults(t *testing.T) {
	cfg := config.Defaults()
	dir := cfg.Paths.DataDir
	if err := runSetup(strings.NewReader(""), &bytes.Buffer{}, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Paths.DataDir != dir || cfg.Telegram.Enabled {
		t.Errorf("EOF should keep defaults: %+v", cfg.Paths)
	}
}

func TestRenderGallery_NewestFirst(t *testing.T) {
	now := time.Now()
	images := []domain.ImageRecord{
		{Prompt: "first", URL: "https://img/1", Timestamp: now.Add(-2 * time.Hour)},
		{Prompt: "second", URL: "https://img/2", Timestamp: now.Add(-time.Hour)},
		{Prompt: "third", URL: "https://img/3", Timestamp: now},
	}
	out := renderGallery(images, 2)
	if strings.Contains(out, "first") {
		t.Error("limit should drop the oldest image")
	}
	if strings.Index(out, "third") > strings.Index(out, "second") {
		t.Error("newest image should come first")
	}
	if !strings.Contains(renderGallery(nil, 5), "No images generated yet.") {
		t.Error("empty gallery message")
	}
}

func TestRenderKnowledgeStats(t *testing.T) {
	if !strings.Contains(renderKnowledgeStats(domain.KnowledgeStats{}), "No documents indexed yet.") {
		t.Error("empty message")
	}
	out := renderKnowledgeStats(domain.KnowledgeStats{Documents: 2, Chunks: 9, VectorDims: 1536})
	for _, want := range []string{"Documents", "9", "1536"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestKnowledgeState(t *testing.T) {
	st := domain.KnowledgeStats{Documents: 3, Chunks: 12}
	tests := []struct {
		name      string
		available bool
		err       error
		want      string
	}{
		{"open", true, nil, "3 documents, 12 chunks"},
		{"locked", false, fmt.Errorf("open docstore: %w", vectorstore.ErrLocked), "locked by another mmassist process"},
		{"broken", false, errors.New("permission denied"), "unavailable: permission denied"},
		{"empty", false, nil, "not initialised"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := knowledgeState(st, tt.available, tt.err); !strings.Contains(got, tt.want) {
				t.Errorf("knowledgeState = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderSessions(t *testing.T) {
	if !strings.Contains(renderSessions(nil), "No conversations yet.") {
		t.Error("empty message")
	}
	out := renderSessions([]domain.Conversation{{ID: "telegram:42", UpdatedAt: time.Now()}, {ID: "cli:local", UpdatedAt: time.Now()}})
	if !strings.Contains(out, "telegram:42") || !strings.Contains(out, "Sessions (2)") {
		t.Errorf("renderSessions = %q", out)
	}
}
