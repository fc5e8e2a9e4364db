package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"mmassist/internal/result"
)

// WhisperConfig configures the speech-to-text provider.
type WhisperConfig struct {
	Client   openai.Client
	Model    string // e.g. "whisper-1"
	Language string // optional ISO-639-1 hint
	Logger   *zap.SugaredLogger
}

// Whisper transcribes audio files with the audio transcriptions API.
type Whisper struct {
	client   openai.Client
	model    string
	language string
	logger   *zap.SugaredLogger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Whisper{
		client:   cfg.Client,
		model:    cfg.Model,
		language: cfg.Language,
		logger:   cfg.Logger,
	}
}

// Transcribe returns the full transcript of the audio file at path, or an
// absent result. A missing or unreadable file is a file failure; anything
// the service rejects is a remote failure.
func (w *Whisper) Transcribe(ctx context.Context, path string) result.Result[string] {
	return result.Capture(ctx, result.Call{
		Capability: "transcribe",
		Logger:     w.logger,
		Fields:     []any{"path", path, "model", w.model},
	}, func(ctx context.Context) (string, error) {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()

		params := openai.AudioTranscriptionNewParams{
			Model: openai.AudioModel(w.model),
			File:  f,
		}
		if w.language != "" {
			params.Language = openai.String(w.language)
		}

		tr, err := w.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("transcription: %w", err)
		}

		w.logger.Infow("transcription complete", "path", path, "text_len", len(tr.Text))
		return tr.Text, nil
	})
}
