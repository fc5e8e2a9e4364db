package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"mmassist/internal/domain"
	"mmassist/internal/lang"
	"mmassist/internal/result"
)

const (
	TranslateLLM    = "llm"
	TranslateGoogle = "google"

	defaultGoogleTranslateBase = "https://translate.googleapis.com"
)

// UnknownLanguage is returned by DetectLanguage when detection fails.
const UnknownLanguage = "unknown"

var isoCode = regexp.MustCompile(`^[a-z]{2,3}(-[a-z]{2,4})?$`)

// TranslatorConfig configures the translation provider.
type TranslatorConfig struct {
	Backend    string           // "llm" (default) | "google"
	Chat       domain.ChatModel // required for the llm backend
	Model      string           // chat model override for the llm backend
	GoogleBase string           // base URL of the public translate endpoint
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// Translator translates text between the supported languages.
type Translator struct {
	backend    string
	chat       domain.ChatModel
	model      string
	googleBase string
	client     *http.Client
	logger     *zap.SugaredLogger
}

func NewTranslator(cfg TranslatorConfig) *Translator {
	if cfg.Backend == "" {
		cfg.Backend = TranslateLLM
	}
	if cfg.GoogleBase == "" {
		cfg.GoogleBase = defaultGoogleTranslateBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(30 * time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Translator{
		backend:    cfg.Backend,
		chat:       cfg.Chat,
		model:      cfg.Model,
		googleBase: strings.TrimRight(cfg.GoogleBase, "/"),
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Translate returns text in the named target language. Unknown language
// names translate to English. Any failure returns text unchanged.
func (t *Translator) Translate(ctx context.Context, text, language string) string {
	return t.TryTranslate(ctx, text, language).Or(text)
}

// TryTranslate is Translate without the identity fallback.
func (t *Translator) TryTranslate(ctx context.Context, text, language string) result.Result[string] {
	code := lang.Code(language)
	if strings.TrimSpace(text) == "" {
		return result.Success(text)
	}
	return result.Capture(ctx, result.Call{
		Capability: "translate",
		Logger:     t.logger,
		Fields:     []any{"backend", t.backend, "target", code},
	}, func(ctx context.Context) (string, error) {
		switch t.backend {
		case TranslateGoogle:
			out, _, err := t.google(ctx, text, code)
			return out, err
		case TranslateLLM:
			return t.llmTranslate(ctx, text, language, code)
		default:
			return "", fmt.Errorf("unsupported translation backend: %s", t.backend)
		}
	})
}

// DetectLanguage returns the ISO-639-1 code of text, or "unknown".
func (t *Translator) DetectLanguage(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return UnknownLanguage
	}
	res := result.Capture(ctx, result.Call{
		Capability: "detect_language",
		Logger:     t.logger,
		Fields:     []any{"backend", t.backend},
	}, func(ctx context.Context) (string, error) {
		var (
			code string
			err  error
		)
		if t.backend == TranslateGoogle {
			_, code, err = t.google(ctx, text, "en")
		} else {
			code, err = t.llmDetect(ctx, text)
		}
		if err != nil {
			return "", err
		}
		code = strings.ToLower(strings.TrimSpace(code))
		if !isoCode.MatchString(code) {
			return "", fmt.Errorf("unrecognised language code %q", code)
		}
		return code, nil
	})
	return res.Or(UnknownLanguage)
}

func (t *Translator) llmTranslate(ctx context.Context, text, language, code string) (string, error) {
	if t.chat == nil {
		return "", fmt.Errorf("llm translation: no chat model configured")
	}
	name := language
	if !lang.IsSupported(name) {
		name = "English"
	}
	resp, err := t.chat.Chat(ctx, domain.ChatRequest{
		Model: t.model,
		Messages: []domain.Message{
			{Role: "system", Content: "You are a translator. Reply with the translation only, without quotes or commentary."},
			{Role: "user", Content: fmt.Sprintf("Translate the following text to %s (%s):\n\n%s", name, code, text)},
		},
	})
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("llm translation: empty response")
	}
	return out, nil
}

func (t *Translator) llmDetect(ctx context.Context, text string) (string, error) {
	if t.chat == nil {
		return "", fmt.Errorf("llm detection: no chat model configured")
	}
	resp, err := t.chat.Chat(ctx, domain.ChatRequest{
		Model: t.model,
		Messages: []domain.Message{
			{Role: "system", Content: "Identify the language of the user's text. Reply with its ISO 639-1 code only."},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// google calls the public translate endpoint. The response is a nested JSON
// array: element 0 lists [translated, original, ...] segments and element 2
// is the detected source language.
func (t *Translator) google(ctx context.Context, text, target string) (string, string, error) {
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", "auto")
	q.Set("tl", target)
	q.Set("dt", "t")
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.googleBase+"/translate_a/single?"+q.Encode(), nil)
	if err != nil {
		return "", "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", "", fmt.Errorf("read translate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("translate error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}
	if !gjson.ValidBytes(body) {
		return "", "", fmt.Errorf("translate: malformed response")
	}

	var sb strings.Builder
	for _, seg := range gjson.GetBytes(body, "0.#.0").Array() {
		sb.WriteString(seg.String())
	}
	if sb.Len() == 0 {
		return "", "", fmt.Errorf("translate: no segments in response")
	}
	return sb.String(), gjson.GetBytes(body, "2").String(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
