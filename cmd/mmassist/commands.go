package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mmassist/internal/bus"
	"mmassist/internal/channel"
	"mmassist/internal/gallery"
	"mmassist/internal/lang"
	"mmassist/internal/metrics"
	"mmassist/internal/provider"
	"mmassist/internal/vectorstore"
)

// withApp loads the config, builds the services and runs fn with a context
// cancelled on SIGINT/SIGTERM.
func withApp(quiet bool, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(quiet)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func chatCmd() *cobra.Command {
	var spinner bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(true, func(ctx context.Context, a *app) error {
				defer a.cleanupAudio()

				messageBus := bus.New(100, a.logger)
				defer messageBus.Close()
				go a.assistant.Run(ctx, messageBus)

				cli := channel.NewCLI(channel.CLIConfig{Logger: a.logger, Spinner: spinner})
				return cli.Start(ctx, messageBus)
			})
		},
	}
	cmd.Flags().BoolVar(&spinner, "spinner", true, "animate while waiting for a reply")
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		host     string
		port     int
		telegram bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and, when enabled, the Telegram bot",
		Long:  "Starts the HTTP API, the Telegram bot (telegram.enabled) and the assistant loop. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(ctx context.Context, a *app) error {
				defer a.cleanupAudio()
				srv := a.cfg.Server
				if cmd.Flags().Changed("host") {
					srv.Host = host
				}
				if cmd.Flags().Changed("port") {
					srv.Port = port
				}

				if err := a.engine.Err(); vectorstore.IsLocked(err) {
					a.logger.Warnw("knowledge base is locked by another mmassist process, document answers stay unavailable until it is released",
						"dir", a.cfg.Paths.IndexPath())
				}

				messageBus := bus.New(100, a.logger)
				go a.assistant.Run(ctx, messageBus)

				api := channel.NewAPI(channel.APIConfig{
					Host:         srv.Host,
					Port:         srv.Port,
					AllowedHosts: srv.AllowedHosts,
					TLSCert:      srv.TLSCert,
					TLSKey:       srv.TLSKey,
					Version:      version,
					Assistant:    a.assistant,
					Logger:       a.logger,
				})
				apiErr := make(chan error, 1)
				go func() { apiErr <- api.Start(ctx, messageBus) }()

				var tg *channel.Telegram
				if telegram || a.cfg.Telegram.Enabled {
					if a.cfg.Telegram.Token == "" {
						a.logger.Warnw("telegram enabled without a token, skipping")
					} else {
						tg = channel.NewTelegram(channel.TelegramConfig{
							Token:      a.cfg.Telegram.Token,
							AllowFrom:  a.cfg.Telegram.AllowFrom,
							HTTPClient: provider.SharedHTTPClient(60 * time.Second),
							Logger:     a.logger,
						})
						go func() {
							if err := tg.Start(ctx, messageBus); err != nil {
								a.logger.Errorw("telegram channel error", "error", err)
							}
						}()
						a.logger.Infow("telegram channel enabled")
					}
				}

				a.logger.Infow("mmassist serving. Press Ctrl+C to stop.", "profile", a.cfg.Profile)

				var serveErr error
				select {
				case <-ctx.Done():
				case serveErr = <-apiErr:
					if serveErr != nil {
						a.logger.Errorw("api stopped", "error", serveErr)
					}
				}
				a.logger.Infow("shutting down")

				const shutdownTimeout = 10 * time.Second
				done := make(chan struct{})
				go func() {
					defer close(done)
					if tg != nil {
						tg.Stop()
					}
					api.Stop()
					messageBus.Close()
				}()
				select {
				case <-done:
					a.logger.Infow("shutdown complete")
				case <-time.After(shutdownTimeout):
					a.logger.Warnw("shutdown timed out, forcing exit")
					return errors.New("shutdown timed out")
				}
				return serveErr
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&telegram, "telegram", false, "start the Telegram bot even if telegram.enabled is false")
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Add PDF or text documents to the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(ctx context.Context, a *app) error {
				if err := a.engine.Err(); vectorstore.IsLocked(err) {
					return fmt.Errorf("knowledge base %s is in use by another mmassist process (stop 'mmassist serve' or retry): %w",
						a.cfg.Paths.IndexPath(), err)
				}
				failed := 0
				for _, path := range args {
					res := a.assistant.IngestFile(ctx, path, "")
					if report, ok := res.Get(); ok {
						fmt.Println(okStyle.Render(fmt.Sprintf("✅ %s added to knowledge base (%d chunks)", report.Document, report.Chunks)))
						continue
					}
					failed++
					fmt.Println(failStyle.Render(fmt.Sprintf("❌ Failed to process %s: %s", path, res.Notice())))
				}
				fmt.Println(renderKnowledgeStats(a.assistant.KnowledgeStats()))
				if failed > 0 {
					return fmt.Errorf("%d of %d document(s) failed", failed, len(args))
				}
				return nil
			})
		},
	}
}

func askCmd() *cobra.Command {
	var (
		sources  bool
		language string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withApp(false, func(ctx context.Context, a *app) error {
				answer := a.engine.Respond(ctx, question)
				if language != "" && !lang.IsEnglish(language) {
					answer = a.translator.Translate(ctx, answer, language)
				}
				fmt.Println(answer)

				if sources {
					hits, ok := a.engine.Retrieve(ctx, question, 0).Get()
					if ok && len(hits) > 0 {
						fmt.Println(renderHits(hits))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&sources, "sources", "s", false, "show the retrieved chunks")
	cmd.Flags().StringVarP(&language, "lang", "l", "", "translate the answer (e.g. French)")
	return cmd
}

func kbCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kb",
		Short: "Show knowledge base statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(ctx context.Context, a *app) error {
				fmt.Println(renderKnowledgeStats(a.assistant.KnowledgeStats()))
				return nil
			})
		},
	}
}

func imagesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "images",
		Short: "List generated images, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(ctx context.Context, a *app) error {
				fmt.Println(renderGallery(a.gallery.History(), limit))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of images to show (0 = all)")
	return cmd
}

func sessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(ctx context.Context, a *app) error {
				if a.store == nil {
					return errors.New("conversation history is disabled (memory.enabled: false)")
				}
				convs, err := a.assistant.Conversations(ctx, limit)
				if err != nil {
					return fmt.Errorf("list conversations: %w", err)
				}
				fmt.Println(renderSessions(convs))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of conversations to show")
	return cmd
}

func analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Show usage analytics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(ctx context.Context, a *app) error {
				fmt.Println(renderAnalytics(a.tracker.Snapshot(), metrics.Calls.Snapshot()))
				return nil
			})
		},
	}
}

func transcribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(ctx context.Context, a *app) error {
				res := a.whisper.Transcribe(ctx, args[0])
				text, ok := res.Get()
				if !ok {
					return errors.New(res.Notice())
				}
				fmt.Println(text)
				return nil
			})
		},
	}
}

func translateCmd() *cobra.Command {
	var (
		target string
		detect bool
	)
	cmd := &cobra.Command{
		Use:   "translate <text>",
		Short: "Translate text to one of the supported languages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(false, func(ctx context.Context, a *app) error {
				if detect {
					fmt.Println(dimStyle.Render("Detected: " + a.translator.DetectLanguage(ctx, text)))
				}
				if !lang.IsSupported(target) {
					return fmt.Errorf("unsupported language %q (choose from %s)", target, strings.Join(lang.Names(), ", "))
				}
				res := a.translator.TryTranslate(ctx, text, target)
				out, ok := res.Get()
				if !ok {
					return errors.New(res.Notice())
				}
				fmt.Println(out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&target, "to", "t", "English", "target language")
	cmd.Flags().BoolVarP(&detect, "detect", "d", false, "also print the detected source language")
	return cmd
}

func speakCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "speak <text>",
		Short: "Synthesize speech to an mp3 file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(false, func(ctx context.Context, a *app) error {
				res := a.tts.Speak(ctx, text, language)
				path, ok := res.Get()
				if !ok {
					return errors.New(res.Notice())
				}
				fmt.Println(path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&language, "lang", "l", "English", "spoken language")
	return cmd
}

func imagineCmd() *cobra.Command {
	var size, quality string
	cmd := &cobra.Command{
		Use:   "imagine <prompt>",
		Short: "Generate an image and add it to the gallery",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			return withApp(false, func(ctx context.Context, a *app) error {
				res := a.gallery.Generate(ctx, prompt, size, quality)
				img, ok := res.Get()
				if !ok {
					return errors.New(res.Notice())
				}
				fmt.Println(img.URL)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&size, "size", gallery.DefaultSize, "image size")
	cmd.Flags().StringVar(&quality, "quality", gallery.DefaultQuality, "image quality (standard, hd)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(ctx context.Context, a *app) error {
				cfgPath := resolveConfigPath()
				_, statErr := os.Stat(cfgPath)
				st := a.assistant.KnowledgeStats()
				apiKey := failStyle.Render("missing")
				if a.cfg.OpenAI.APIKey != "" {
					apiKey = okStyle.Render("set")
				}
				fmt.Println(panel("mmassist v"+version,
					kv("Config", fmt.Sprintf("%s (loaded: %v)", cfgPath, statErr == nil)),
					kv("Profile", a.cfg.Profile),
					kv("OpenAI API key", apiKey),
					kv("Chat model", a.cfg.OpenAI.ChatModel),
					kv("Whisper model", a.cfg.OpenAI.WhisperModel),
					kv("Image model", a.cfg.OpenAI.ImageModel),
					kv("Knowledge base", knowledgeState(st, a.engine.Available(), a.engine.Err())),
					kv("Images", len(a.gallery.History())),
					kv("Telegram", a.cfg.Telegram.Enabled),
					kv("API", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)),
				))
				return nil
			})
		},
	}
}
