// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/voicereach-engine/internal/app"
	"github.com/unclebandit/voicereach-engine/internal/config"
	"github.com/unclebandit/voicereach-engine/internal/controller"
	"github.com/unclebandit/voicereach-engine/internal/handler"
	"github.com/unclebandit/voicereach-engine/internal/logging"
	"github.com/unclebandit/voicereach-engine/internal/service"
)

func main() {
	// Load .env
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

	campaignController := &controller.CampaignController{
		CampaignService: &service.CampaignService{
			CampaignRepo: a.Campaigns,
			Jobs:         a.Jobs,
		},
	}
	jobsController := &controller.JobsController{Jobs: a.Jobs}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handler.NewRouter(handler.Deps{
			Campaigns: campaignController,
			Jobs:      jobsController,
			Hub:       a.Hub,
			Auth:      a.Auth,
			Log:       log,
		}),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Hub.Run(ctx)
		return nil
	})
	if cfg.RunWorkers {
		g.Go(func() error { return a.RunWorkers(ctx) })
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Bool("workers", cfg.RunWorkers).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Msg("server stopped")
}
