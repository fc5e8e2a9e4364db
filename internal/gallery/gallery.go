// Package gallery generates images from prompts and keeps the history of
// everything generated.
package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mmassist/internal/domain"
	"mmassist/internal/result"
)

const (
	DefaultSize    = "1024x1024"
	DefaultQuality = "standard"
	HistoryFile    = "history.json"
)

// Generator produces a hosted image URL for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, size, quality string) (string, error)
}

type Config struct {
	Generator Generator
	Dir       string // holds history.json
	Logger    *zap.SugaredLogger
}

// Gallery wraps a Generator with a persisted history.
type Gallery struct {
	mu        sync.RWMutex
	generator Generator
	path      string
	history   []domain.ImageRecord
	logger    *zap.SugaredLogger
}

// New loads the existing history. An unreadable history starts empty.
func New(cfg Config) *Gallery {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	g := &Gallery{
		generator: cfg.Generator,
		path:      filepath.Join(cfg.Dir, HistoryFile),
		logger:    cfg.Logger,
	}
	if err := g.load(); err != nil {
		g.logger.Warnw("image history unreadable, starting empty", "path", g.path, "error", err)
		g.history = nil
	}
	return g
}

func (g *Gallery) load() error {
	data, err := os.ReadFile(g.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &g.history)
}

// Generate creates one image. Empty size or quality use the defaults. On
// success the record is appended to the history and saved.
func (g *Gallery) Generate(ctx context.Context, prompt, size, quality string) result.Result[domain.ImageRecord] {
	if size == "" {
		size = DefaultSize
	}
	if quality == "" {
		quality = DefaultQuality
	}
	res := result.Capture(ctx, result.Call{
		Capability: "image",
		Logger:     g.logger,
		Fields:     []any{"size", size, "quality", quality},
	}, func(ctx context.Context) (domain.ImageRecord, error) {
		if strings.TrimSpace(prompt) == "" {
			return domain.ImageRecord{}, fmt.Errorf("image: empty prompt")
		}
		url, err := g.generator.Generate(ctx, prompt, size, quality)
		if err != nil {
			return domain.ImageRecord{}, err
		}
		return domain.ImageRecord{
			Prompt:    prompt,
			URL:       url,
			Timestamp: time.Now(),
			Size:      size,
			Quality:   quality,
		}, nil
	})

	rec, ok := res.Get()
	if !ok {
		return res
	}
	g.mu.Lock()
	g.history = append(g.history, rec)
	err := g.saveLocked()
	g.mu.Unlock()
	if err != nil {
		g.logger.Errorw("save image history", "path", g.path, "error", err)
	}
	return res
}

func (g *Gallery) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(g.history, "", "  ")
	if err != nil {
		return err
	}
	tmp := g.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, g.path)
}

// History returns a copy of the records, oldest first.
func (g *Gallery) History() []domain.ImageRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.ImageRecord, len(g.history))
	copy(out, g.history)
	return out
}
