package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for mmassist.
type Config struct {
	Profile     string            `yaml:"profile" mapstructure:"profile"`
	OpenAI      OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Chunking    ChunkingConfig    `yaml:"chunking" mapstructure:"chunking"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" mapstructure:"retrieval"`
	Translation TranslationConfig `yaml:"translation" mapstructure:"translation"`
	Speech      SpeechConfig      `yaml:"speech" mapstructure:"speech"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Memory      MemoryConfig      `yaml:"memory" mapstructure:"memory"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Telegram    TelegramConfig    `yaml:"telegram" mapstructure:"telegram"`
}

// OpenAIConfig holds credentials and model names for every hosted capability.
type OpenAIConfig struct {
	APIKey         string `yaml:"apiKey" mapstructure:"apiKey"`
	APIBase        string `yaml:"apiBase,omitempty" mapstructure:"apiBase"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" mapstructure:"timeoutSeconds"`
	WhisperModel   string `yaml:"whisperModel" mapstructure:"whisperModel"`
	ChatModel      string `yaml:"chatModel" mapstructure:"chatModel"`
	ImageModel     string `yaml:"imageModel" mapstructure:"imageModel"`
	EmbeddingModel string `yaml:"embeddingModel" mapstructure:"embeddingModel"`
	TTSModel       string `yaml:"ttsModel" mapstructure:"ttsModel"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size" mapstructure:"size"`
	Overlap int `yaml:"overlap" mapstructure:"overlap"`
}

type RetrievalConfig struct {
	TopK int `yaml:"topK" mapstructure:"topK"`
}

type TranslationConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "llm" | "google"
}

type SpeechConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "gtts" | "openai"
	Voice   string `yaml:"voice" mapstructure:"voice"`
}

// PathsConfig locates on-disk state. Empty sub-directories derive from DataDir.
type PathsConfig struct {
	DataDir   string `yaml:"dataDir" mapstructure:"dataDir"`
	IndexDir  string `yaml:"indexDir,omitempty" mapstructure:"indexDir"`
	ImagesDir string `yaml:"imagesDir,omitempty" mapstructure:"imagesDir"`
	AudioDir  string `yaml:"audioDir,omitempty" mapstructure:"audioDir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "console" | "json"
	File   string `yaml:"file,omitempty" mapstructure:"file"`
}

type MemoryConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	MaxHistory int  `yaml:"maxHistory" mapstructure:"maxHistory"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host         string   `yaml:"host" mapstructure:"host"`
	Port         int      `yaml:"port" mapstructure:"port"`
	AllowedHosts []string `yaml:"allowedHosts,omitempty" mapstructure:"allowedHosts"`
	SSLRequired  bool     `yaml:"sslRequired" mapstructure:"sslRequired"`
	TLSCert      string   `yaml:"tlsCert,omitempty" mapstructure:"tlsCert"`
	TLSKey       string   `yaml:"tlsKey,omitempty" mapstructure:"tlsKey"`
}

type TelegramConfig struct {
	Enabled   bool     `yaml:"enabled" mapstructure:"enabled"`
	Token     string   `yaml:"token" mapstructure:"token"`
	AllowFrom []string `yaml:"allowFrom" mapstructure:"allowFrom"`
}

// IndexPath returns the vector index directory.
func (p PathsConfig) IndexPath() string {
	return p.sub(p.IndexDir, "vector_db")
}

// ImagesPath returns the directory holding the image history.
func (p PathsConfig) ImagesPath() string {
	return p.sub(p.ImagesDir, "generated_images")
}

// AudioPath returns the directory for synthesized speech files.
func (p PathsConfig) AudioPath() string {
	return p.sub(p.AudioDir, "temp_audio")
}

// DocumentsPath returns the directory where uploaded documents are kept.
func (p PathsConfig) DocumentsPath() string {
	return filepath.Join(p.DataDir, "documents")
}

// MemoryDB returns the sqlite conversation database path.
func (p PathsConfig) MemoryDB() string {
	return filepath.Join(p.DataDir, "memory.db")
}

// AnalyticsDir returns the directory holding analytics.json.
func (p PathsConfig) AnalyticsDir() string {
	return p.DataDir
}

func (p PathsConfig) sub(override, name string) string {
	if override != "" {
		return override
	}
	return filepath.Join(p.DataDir, name)
}

// EnsureDirectories creates every state directory.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.Paths.DataDir,
		c.Paths.IndexPath(),
		c.Paths.ImagesPath(),
		c.Paths.AudioPath(),
		c.Paths.DocumentsPath(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultConfigDir returns the default config directory (~/.mmassist).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mmassist"
	}
	return filepath.Join(home, ".mmassist")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// ProfileEnv selects the profile when no explicit profile is given.
const ProfileEnv = "MMASSIST_PROFILE"

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"openai.apiKey":  "OPENAI_API_KEY",
	"openai.apiBase": "OPENAI_BASE_URL",
	"telegram.token": "TELEGRAM_BOT_TOKEN",
}

// Load reads the YAML config at path. A missing file is not an error: the
// result is the profile defaults plus environment overrides.
//
// Profile precedence: profile argument, MMASSIST_PROFILE, the file's
// "profile" key, then "base". File values override profile values and
// environment bindings override both.
func Load(path, profile string) (*Config, error) {
	path = ExpandPath(path)

	v := viper.New()
	v.SetConfigType("yaml")
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if profile == "" {
		profile = os.Getenv(ProfileEnv)
	}
	if profile == "" {
		profile = v.GetString("profile")
	}
	cfg := Defaults()
	if err := ApplyProfile(cfg, profile); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config file %s: %w", path, err)
	}
	cfg.Profile = profileName(profile)

	cfg.Paths.DataDir = ExpandPath(cfg.Paths.DataDir)
	cfg.Paths.IndexDir = ExpandPath(cfg.Paths.IndexDir)
	cfg.Paths.ImagesDir = ExpandPath(cfg.Paths.ImagesDir)
	cfg.Paths.AudioDir = ExpandPath(cfg.Paths.AudioDir)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as YAML. Secrets taken from the environment are written too,
// so callers that persist user edits should Load without the env set or accept that.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if _, ok := profiles[profileName(cfg.Profile)]; !ok {
		errs = append(errs, fmt.Sprintf("profile must be one of: %s", strings.Join(ProfileNames(), ", ")))
	}
	if cfg.Chunking.Size < 1 {
		errs = append(errs, "chunking.size must be >= 1")
	}
	if cfg.Chunking.Overlap < 0 || cfg.Chunking.Overlap >= cfg.Chunking.Size {
		errs = append(errs, "chunking.overlap must be >= 0 and < chunking.size")
	}
	if cfg.Retrieval.TopK < 1 {
		errs = append(errs, "retrieval.topK must be >= 1")
	}
	if cfg.OpenAI.TimeoutSeconds < 1 {
		errs = append(errs, "openai.timeoutSeconds must be >= 1")
	}
	switch cfg.Translation.Backend {
	case "llm", "google":
	default:
		errs = append(errs, "translation.backend must be one of: llm, google")
	}
	switch cfg.Speech.Backend {
	case "gtts", "openai":
	default:
		errs = append(errs, "speech.backend must be one of: gtts, openai")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, "logging.format must be one of: console, json")
	}
	if cfg.Paths.DataDir == "" {
		errs = append(errs, "paths.dataDir is required")
	}
	if cfg.Memory.MaxHistory < 1 {
		errs = append(errs, "memory.maxHistory must be >= 1")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.SSLRequired && (cfg.Server.TLSCert == "" || cfg.Server.TLSKey == "") {
		errs = append(errs, "server.tlsCert and server.tlsKey are required when server.sslRequired is set")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
