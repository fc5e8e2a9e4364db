// Package analytics keeps running usage counters in analytics.json.
package analytics

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"mmassist/internal/domain"
)

const File = "analytics.json"

type Config struct {
	Dir    string
	Logger *zap.SugaredLogger
	Now    func() time.Time
}

// Tracker counts events and saves after every change. It serialises
// updates within the process; concurrent processes overwrite each other.
type Tracker struct {
	mu     sync.Mutex
	path   string
	data   domain.SessionAnalytics
	logger *zap.SugaredLogger
	now    func() time.Time
}

// New loads analytics.json from cfg.Dir. A missing or unreadable file
// starts from zero counters.
func New(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	t := &Tracker{
		path:   filepath.Join(cfg.Dir, File),
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	t.data = t.defaults()

	raw, err := os.ReadFile(t.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		t.logger.Warnw("analytics unreadable, using defaults", "path", t.path, "error", err)
	default:
		var loaded domain.SessionAnalytics
		if err := json.Unmarshal(raw, &loaded); err != nil {
			t.logger.Warnw("analytics corrupt, using defaults", "path", t.path, "error", err)
		} else {
			if loaded.Sessions == nil {
				loaded.Sessions = []string{}
			}
			t.data = loaded
		}
	}
	return t
}

func (t *Tracker) defaults() domain.SessionAnalytics {
	return domain.SessionAnalytics{Sessions: []string{}, LastUpdated: t.now()}
}

// Record counts one event. Unknown events only refresh last_updated.
func (t *Tracker) Record(event domain.AnalyticsEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch event {
	case domain.EventMessage:
		t.data.TotalMessages++
	case domain.EventImageGenerated:
		t.data.ImagesGenerated++
	case domain.EventDocumentProcessed:
		t.data.DocumentsProcessed++
	case domain.EventAudioProcessed:
		t.data.AudioProcessed++
	default:
		t.logger.Debugw("uncounted analytics event", "event", event)
	}
	t.data.LastUpdated = t.now()
	t.saveLocked()
}

// TrackSession adds a session ID the first time it is seen.
func (t *Tracker) TrackSession(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" || slices.Contains(t.data.Sessions, id) {
		return
	}
	t.data.Sessions = append(t.data.Sessions, id)
	t.data.LastUpdated = t.now()
	t.saveLocked()
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() domain.SessionAnalytics {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.data
	out.Sessions = slices.Clone(t.data.Sessions)
	return out
}

func (t *Tracker) saveLocked() {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		t.logger.Errorw("save analytics", "path", t.path, "error", err)
		return
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		t.logger.Errorw("encode analytics", "error", err)
		return
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		t.logger.Errorw("save analytics", "path", t.path, "error", err)
		return
	}
	if err := os.Rename(tmp, t.path); err != nil {
		t.logger.Errorw("save analytics", "path", t.path, "error", err)
	}
}
