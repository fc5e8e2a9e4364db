package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mmassist/internal/assistant"
	"mmassist/internal/config"
	"mmassist/internal/logging"
)

var (
	version     = "0.3.0"
	logger      = zap.NewNop().Sugar()
	configPath  string // overridable via --config flag
	profileFlag string
	envFile     string
)

func main() {
	root := &cobra.Command{
		Use:   "mmassist",
		Short: "mmassist: multi-modal AI assistant",
		Long: `mmassist transcribes speech, translates, answers questions from your own
documents, generates images and speaks replies. It runs as a terminal chat,
a Telegram bot, or an HTTP API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.mmassist/config.yaml)")
	root.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "configuration profile: base, development, production")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(askCmd())
	root.AddCommand(kbCmd())
	root.AddCommand(imagesCmd())
	root.AddCommand(analyticsCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(transcribeCmd())
	root.AddCommand(translateCmd())
	root.AddCommand(speakCmd())
	root.AddCommand(imagineCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	assistant.SetVersion(version)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config and installs the configured logger. quiet
// keeps log lines off stderr so they do not interleave with a REPL.
func loadConfig(quiet bool) (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath, profileFlag)
	if err != nil {
		return nil, err
	}
	l, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Quiet:  quiet,
	})
	if err != nil {
		return nil, err
	}
	logger = l
	logger.Debugw("config loaded", "path", cfgPath, "profile", cfg.Profile)
	return cfg, nil
}
