package config

import (
	"fmt"
	"sort"
	"strings"
)

// Profile names.
const (
	ProfileBase        = "base"
	ProfileDevelopment = "development"
	ProfileProduction  = "production"
)

func Defaults() *Config {
	return &Config{
		Profile: ProfileBase,
		OpenAI: OpenAIConfig{
			TimeoutSeconds: 120,
			WhisperModel:   "whisper-1",
			ChatModel:      "gpt-4",
			ImageModel:     "dall-e-3",
			EmbeddingModel: "text-embedding-3-small",
			TTSModel:       "tts-1",
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 200,
		},
		Retrieval: RetrievalConfig{
			TopK: 3,
		},
		Translation: TranslationConfig{
			Backend: "llm",
		},
		Speech: SpeechConfig{
			Backend: "gtts",
			Voice:   "alloy",
		},
		Paths: PathsConfig{
			DataDir: "~/.mmassist",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Memory: MemoryConfig{
			Enabled:    true,
			MaxHistory: 50,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8501,
		},
	}
}

// profiles adjust the base defaults before the config file is applied.
var profiles = map[string]func(*Config){
	ProfileBase: func(*Config) {},
	ProfileDevelopment: func(c *Config) {
		c.OpenAI.WhisperModel = "whisper-1"
		c.OpenAI.ChatModel = "gpt-3.5-turbo"
		c.OpenAI.ImageModel = "dall-e-2"
		c.Chunking.Size = 500
		c.Chunking.Overlap = 100
		c.Logging.Level = "debug"
	},
	ProfileProduction: func(c *Config) {
		c.OpenAI.WhisperModel = "whisper-1"
		c.OpenAI.ChatModel = "gpt-4"
		c.OpenAI.ImageModel = "dall-e-3"
		c.Chunking.Size = 1500
		c.Chunking.Overlap = 300
		c.Logging.Level = "info"
		c.Logging.Format = "json"
		c.Server.Host = "0.0.0.0"
		c.Server.AllowedHosts = []string{"your-domain.com", "www.your-domain.com"}
		c.Server.SSLRequired = true
	},
}

func profileName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProfileBase
	}
	return name
}

// ApplyProfile overlays the named profile on cfg. An empty name is the base profile.
func ApplyProfile(cfg *Config, name string) error {
	name = profileName(name)
	apply, ok := profiles[name]
	if !ok {
		return fmt.Errorf("unknown profile %q (want one of: %s)", name, strings.Join(ProfileNames(), ", "))
	}
	apply(cfg)
	cfg.Profile = name
	return nil
}

// ProfileNames lists the known profiles in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
