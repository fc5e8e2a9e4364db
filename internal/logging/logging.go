// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects level, encoding and sinks.
type Options struct {
	Level  string // debug | info | warn | error
	Format string // console | json
	File   string // optional log file, appended to
	Quiet  bool   // drop the stderr sink (interactive REPL)
}

// New returns a sugared logger. An unknown level falls back to info.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	var cfg zap.Config
	if opts.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = level
	cfg.Encoding = "json"
	if opts.Format == "console" {
		cfg.Encoding = "console"
	}

	cfg.OutputPaths = nil
	if !opts.Quiet {
		cfg.OutputPaths = append(cfg.OutputPaths, "stderr")
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
	}
	if len(cfg.OutputPaths) == 0 {
		return zap.NewNop().Sugar(), nil
	}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// Must is New that falls back to a production logger on error.
func Must(opts Options) *zap.SugaredLogger {
	l, err := New(opts)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Sugar().Warnw("logger config rejected, using defaults", "error", err)
		return fallback.Sugar()
	}
	return l
}
