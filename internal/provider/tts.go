package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"mmassist/internal/lang"
	"mmassist/internal/result"
)

const (
	TTSGoogle = "gtts"
	TTSOpenAI = "openai"

	defaultGTTSBase = "https://translate.google.com"
	gttsMaxRunes    = 100
	ttsFilePrefix   = "tts_"
)

// TTSConfig configures the text-to-speech provider.
type TTSConfig struct {
	Backend    string        // "gtts" (default) | "openai"
	Client     openai.Client // openai backend
	Model      string        // openai backend, e.g. "tts-1"
	Voice      string        // openai backend, e.g. "alloy"
	GTTSBase   string        // gtts backend base URL
	OutputDir  string        // where tts_*.mp3 files are written
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// TTSProvider synthesizes speech into mp3 files.
type TTSProvider struct {
	backend   string
	client    openai.Client
	model     string
	voice     string
	gttsBase  string
	outputDir string
	http      *http.Client
	logger    *zap.SugaredLogger
}

func NewTTSProvider(cfg TTSConfig) *TTSProvider {
	if cfg.Backend == "" {
		cfg.Backend = TTSGoogle
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.GTTSBase == "" {
		cfg.GTTSBase = defaultGTTSBase
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(os.TempDir(), "mmassist-audio")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(60 * time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &TTSProvider{
		backend:   cfg.Backend,
		client:    cfg.Client,
		model:     cfg.Model,
		voice:     cfg.Voice,
		gttsBase:  strings.TrimRight(cfg.GTTSBase, "/"),
		outputDir: cfg.OutputDir,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
	}
}

// Speak writes text spoken in the named language to an mp3 file and
// returns its path. Unknown language names are spoken as English.
func (t *TTSProvider) Speak(ctx context.Context, text, language string) result.Result[string] {
	code := lang.Code(language)
	return result.Capture(ctx, result.Call{
		Capability: "speech",
		Logger:     t.logger,
		Fields:     []any{"backend", t.backend, "language", code},
	}, func(ctx context.Context) (string, error) {
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("speech: empty text")
		}
		if err := os.MkdirAll(t.outputDir, 0o755); err != nil {
			return "", err
		}

		var (
			audio []byte
			err   error
		)
		switch t.backend {
		case TTSGoogle:
			audio, err = t.synthesizeGoogle(ctx, text, code)
		case TTSOpenAI:
			audio, err = t.synthesizeOpenAI(ctx, text)
		default:
			err = fmt.Errorf("unsupported TTS backend: %s", t.backend)
		}
		if err != nil {
			return "", err
		}

		sum := sha256.Sum256([]byte(t.backend + "|" + code + "|" + text))
		path := filepath.Join(t.outputDir, fmt.Sprintf("%s%x.mp3", ttsFilePrefix, sum[:8]))
		if err := os.WriteFile(path, audio, 0o644); err != nil {
			return "", err
		}
		t.logger.Infow("speech synthesized", "path", path, "bytes", len(audio))
		return path, nil
	})
}

// CleanupTempFiles removes every generated mp3 and returns how many were deleted.
func (t *TTSProvider) CleanupTempFiles() (int, error) {
	matches, err := filepath.Glob(filepath.Join(t.outputDir, ttsFilePrefix+"*.mp3"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			t.logger.Warnw("remove speech file", "path", m, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (t *TTSProvider) synthesizeOpenAI(ctx context.Context, text string) ([]byte, error) {
	resp, err := t.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(t.model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(t.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech API: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// synthesizeGoogle fetches each part from the translate TTS endpoint and
// concatenates the mp3 streams.
func (t *TTSProvider) synthesizeGoogle(ctx context.Context, text, code string) ([]byte, error) {
	parts := splitForSpeech(text, gttsMaxRunes)
	var buf bytes.Buffer
	for i, part := range parts {
		q := url.Values{}
		q.Set("ie", "UTF-8")
		q.Set("client", "tw-ob")
		q.Set("tl", code)
		q.Set("q", part)
		q.Set("total", fmt.Sprint(len(parts)))
		q.Set("idx", fmt.Sprint(i))
		q.Set("textlen", fmt.Sprint(len([]rune(part))))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.gttsBase+"/translate_tts?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")

		resp, err := t.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("gtts request: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("gtts error (status %d): %s", resp.StatusCode, string(body))
		}
		_, err = io.Copy(&buf, resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("gtts read: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// splitForSpeech cuts text into parts of at most limit runes, preferring to
// break after whitespace or punctuation.
func splitForSpeech(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}
		cut := limit
		for i := limit; i > limit/2; i-- {
			if unicode.IsSpace(runes[i-1]) || unicode.IsPunct(runes[i-1]) {
				cut = i
				break
			}
		}
		part := strings.TrimSpace(string(runes[:cut]))
		if part != "" {
			parts = append(parts, part)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	return parts
}
