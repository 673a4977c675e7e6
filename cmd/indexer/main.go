package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"turbo-tophits/internal/config"
	"turbo-tophits/internal/indexer"
	"turbo-tophits/internal/logging"
)

func main() {
	cfg, err := config.LoadIndexer()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "indexer"}, nil)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid logger configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("input", cfg.Input).
		Str("out_dir", cfg.OutDir).
		Int("shards", cfg.NumShards).
		Msg("indexing")
	if _, err := indexer.Run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("indexing failed")
		stop()
		os.Exit(1)
	}
}
