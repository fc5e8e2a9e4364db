package assistant

import (
	"fmt"
	"strings"
	"sync"

	"mmassist/internal/lang"
)

// Settings are the per-session choices a user makes: target language and
// which stages run.
type Settings struct {
	Language string  `json:"language"`
	Toggles  Toggles `json:"toggles"`
}

// DefaultSettings targets Arabic with every stage enabled.
func DefaultSettings() Settings {
	return Settings{
		Language: "Arabic",
		Toggles:  Toggles{Translation: true, RAG: true, ImageGeneration: true, Speech: true},
	}
}

// Feature names accepted by Toggle.
var features = []string{"translation", "rag", "image", "speech"}

// SessionKey identifies a conversation by channel and chat.
func SessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// SessionManager keeps settings in memory; they reset on restart.
type SessionManager struct {
	mu       sync.RWMutex
	defaults Settings
	settings map[string]Settings
}

func NewSessionManager(defaults Settings) *SessionManager {
	if !lang.IsSupported(defaults.Language) {
		defaults.Language = "English"
	}
	return &SessionManager{defaults: defaults, settings: make(map[string]Settings)}
}

// Get returns the settings for key, or the defaults for a new session.
func (sm *SessionManager) Get(key string) Settings {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if s, ok := sm.settings[key]; ok {
		return s
	}
	return sm.defaults
}

func (sm *SessionManager) update(key string, fn func(*Settings)) Settings {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.settings[key]
	if !ok {
		s = sm.defaults
	}
	fn(&s)
	sm.settings[key] = s
	return s
}

// SetLanguage selects the target language by display name, case-insensitively.
func (sm *SessionManager) SetLanguage(key, name string) (Settings, error) {
	if l, ok := lang.Lookup(name); ok {
		return sm.update(key, func(s *Settings) { s.Language = l.Name }), nil
	}
	return sm.Get(key), fmt.Errorf("unsupported language %q (choose one of: %s)", name, strings.Join(lang.Names(), ", "))
}

// Toggle flips one feature and returns its new state.
func (sm *SessionManager) Toggle(key, feature string) (bool, error) {
	var ptr func(*Settings) *bool
	switch strings.ToLower(feature) {
	case "translation":
		ptr = func(s *Settings) *bool { return &s.Toggles.Translation }
	case "rag":
		ptr = func(s *Settings) *bool { return &s.Toggles.RAG }
	case "image", "images":
		ptr = func(s *Settings) *bool { return &s.Toggles.ImageGeneration }
	case "speech", "tts":
		ptr = func(s *Settings) *bool { return &s.Toggles.Speech }
	default:
		return false, fmt.Errorf("unknown feature %q (choose one of: %s)", feature, strings.Join(features, ", "))
	}
	s := sm.update(key, func(s *Settings) {
		p := ptr(s)
		*p = !*p
	})
	return *ptr(&s), nil
}

// Reset drops the session's settings.
func (sm *SessionManager) Reset(key string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.settings, key)
}

// Request builds a Request for text using the session's settings.
func (sm *SessionManager) Request(key, text string) Request {
	s := sm.Get(key)
	return Request{Session: key, Text: text, Language: s.Language, Toggles: s.Toggles}
}
