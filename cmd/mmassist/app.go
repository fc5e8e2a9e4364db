package main

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"mmassist/internal/analytics"
	"mmassist/internal/assistant"
	"mmassist/internal/bus"
	"mmassist/internal/config"
	"mmassist/internal/gallery"
	"mmassist/internal/knowledge"
	"mmassist/internal/memory"
	"mmassist/internal/provider"
)

const indexLockTimeout = 5 * time.Second

// app holds every service built from one config.
type app struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	client     openai.Client
	chat       *provider.OpenAI
	whisper    *provider.Whisper
	translator *provider.Translator
	tts        *provider.TTSProvider
	engine     *knowledge.Engine
	gallery    *gallery.Gallery
	tracker    *analytics.Tracker
	store      *memory.SQLiteStore
	events     *bus.EventBus
	assistant  *assistant.Assistant
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*app, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if cfg.OpenAI.APIKey == "" {
		logger.Warnw("OPENAI_API_KEY is not set, hosted capabilities will report failures")
	}

	timeout := time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second
	httpClient := provider.SharedHTTPClient(timeout)
	client := provider.NewClient(provider.ClientConfig{
		APIKey:     cfg.OpenAI.APIKey,
		APIBase:    cfg.OpenAI.APIBase,
		HTTPClient: httpClient,
	})

	a := &app{cfg: cfg, logger: logger, client: client}
	a.chat = provider.NewOpenAI(provider.OpenAIConfig{Client: client, Model: cfg.OpenAI.ChatModel, Logger: logger})
	a.whisper = provider.NewWhisper(provider.WhisperConfig{Client: client, Model: cfg.OpenAI.WhisperModel, Logger: logger})
	a.translator = provider.NewTranslator(provider.TranslatorConfig{
		Backend:    cfg.Translation.Backend,
		Chat:       a.chat,
		Model:      cfg.OpenAI.ChatModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	a.tts = provider.NewTTSProvider(provider.TTSConfig{
		Backend:    cfg.Speech.Backend,
		Client:     client,
		Model:      cfg.OpenAI.TTSModel,
		Voice:      cfg.Speech.Voice,
		OutputDir:  cfg.Paths.AudioPath(),
		HTTPClient: httpClient,
		Logger:     logger,
	})

	engine, err := knowledge.NewEngine(ctx, knowledge.EngineConfig{
		Dir: cfg.Paths.IndexPath(),
		Embedder: provider.NewEmbedder(provider.EmbedderConfig{
			Client: client,
			Model:  cfg.OpenAI.EmbeddingModel,
			Logger: logger,
		}),
		Chat:        a.chat,
		Model:       cfg.OpenAI.ChatModel,
		ChunkSize:   cfg.Chunking.Size,
		Overlap:     cfg.Chunking.Overlap,
		TopK:        cfg.Retrieval.TopK,
		LockTimeout: indexLockTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	a.engine = engine

	a.gallery = gallery.New(gallery.Config{
		Generator: provider.NewImageGenerator(provider.ImageConfig{Client: client, Model: cfg.OpenAI.ImageModel, Logger: logger}),
		Dir:       cfg.Paths.ImagesPath(),
		Logger:    logger,
	})
	a.tracker = analytics.New(analytics.Config{Dir: cfg.Paths.AnalyticsDir(), Logger: logger})
	a.events = bus.NewEventBus(logger)

	acfg := assistant.Config{
		Transcriber: a.whisper,
		Translator:  a.translator,
		Knowledge:   a.engine,
		Images:      a.gallery,
		Speaker:     a.tts,
		Analytics:   a.tracker,
		Events:      a.events,
		ImageSize:   gallery.DefaultSize,
		Quality:     gallery.DefaultQuality,
		Logger:      logger,
	}
	if cfg.Memory.Enabled {
		store, err := memory.NewSQLiteStore(cfg.Paths.MemoryDB(), logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		acfg.Memory = store
	}
	a.assistant = assistant.New(acfg)
	return a, nil
}

// Close releases the index lock and the database.
func (a *app) Close() {
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.logger.Warnw("close knowledge base", "error", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync()
}

// cleanupAudio removes speech files synthesized during a long-running session.
func (a *app) cleanupAudio() {
	n, err := a.tts.CleanupTempFiles()
	if err != nil {
		a.logger.Warnw("cleanup audio", "error", err)
		return
	}
	if n > 0 {
		a.logger.Infow("removed synthesized audio", "files", n)
	}
}
