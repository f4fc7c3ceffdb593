// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/voicereach-engine/internal/app"
	"github.com/unclebandit/voicereach-engine/internal/config"
	"github.com/unclebandit/voicereach-engine/internal/logging"
)

// The worker owns the task store exclusively; run it instead of, not
// alongside, a server started with RUN_WORKERS=true on the same BADGER_DIR.
func main() {
	loaded := config.LoadDotEnv()

	cfg, err := config.FromEnv()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if !loaded {
		log.Warn().Msg("no .env file found, relying on OS environment variables")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	log.Info().Str("badger", cfg.BadgerDir).Msg("worker running, waiting for tasks...")
	if err := a.RunWorkers(ctx); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		return
	}
	log.Info().Msg("worker stopped")
}
