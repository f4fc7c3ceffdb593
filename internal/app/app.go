// internal/app/app.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/voicereach-engine/internal/callevents"
	"github.com/unclebandit/voicereach-engine/internal/config"
	"github.com/unclebandit/voicereach-engine/internal/db"
	"github.com/unclebandit/voicereach-engine/internal/integrations"
	"github.com/unclebandit/voicereach-engine/internal/queue"
	"github.com/unclebandit/voicereach-engine/internal/realtime"
	"github.com/unclebandit/voicereach-engine/internal/repository"
	"github.com/unclebandit/voicereach-engine/internal/service"
)

// outbound requests per second allowed to each collaborator
const collaboratorRPS = 20

// App holds the wired components shared by the server and worker binaries.
type App struct {
	Cfg config.Config
	Log zerolog.Logger

	SQL    *sql.DB
	Badger *badger.DB
	Queues map[string]*queue.Queue

	Campaigns *repository.CampaignRepository
	Sessions  *repository.SessionRepository
	Users     *repository.UserRepository

	Hub       *realtime.Hub
	Auth      *service.AuthService
	Jobs      *service.Jobs
	Executor  *service.CampaignExecutor
	Scheduler *service.ContactScheduler
	Audio     *service.AudioPipeline
	Analytics *service.Analytics
	Recurring *service.RecurringScheduler
	CallEvent *callevents.Handler
}

// Build opens the stores and wires every service. Close releases them.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log, Queues: make(map[string]*queue.Queue)}

	var err error
	if a.SQL, err = db.Open(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	if a.Badger, err = db.OpenBadger(cfg.BadgerDir, log.With().Str("comp", "badger").Logger()); err != nil {
		a.SQL.Close()
		return nil, err
	}

	tuning, err := config.LoadQueues(cfg.QueuesFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	for _, name := range config.QueueNames {
		q, err := queue.New(a.Badger, name, tuning[name], log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("queue %s: %w", name, err)
		}
		a.Queues[name] = q
	}

	a.Campaigns = &repository.CampaignRepository{DB: a.SQL}
	a.Sessions = &repository.SessionRepository{DB: a.SQL}
	a.Users = &repository.UserRepository{DB: a.SQL}

	var cache repository.AnalyticsCache = &repository.CacheRepository{DB: a.SQL}
	if cfg.AnalyticsCache == "badger" {
		cache = &repository.BadgerCache{DB: a.Badger}
	}

	a.Auth = &service.AuthService{Users: a.Users}
	a.Hub = realtime.NewHub(a.Auth, realtime.DefaultConfig(), log)

	campaignQ := a.Queues[config.QueueCampaign]
	contactQ := a.Queues[config.QueueContactCalls]
	audioQ := a.Queues[config.QueueAudio]
	analyticsQ := a.Queues[config.QueueAnalytics]
	recurringQ := a.Queues[config.QueueRecurringAnalytics]

	a.Jobs = &service.Jobs{
		Campaign:  campaignQ,
		Contacts:  contactQ,
		Audio:     audioQ,
		Analytics: analyticsQ,
		Recurring: recurringQ,
	}

	ilog := log.With().Str("comp", "integrations").Logger()
	calls := integrations.NewCallEngine(integrations.NewClient(cfg.CallEngineURL, cfg.ServiceToken, collaboratorRPS, ilog))
	storage := integrations.NewStorage(integrations.NewClient(cfg.StorageURL, cfg.ServiceToken, collaboratorRPS, ilog))
	analysis := integrations.NewAnalysis(integrations.NewClient(cfg.AnalysisURL, cfg.ServiceToken, collaboratorRPS, ilog))

	a.Executor = service.NewCampaignExecutor(a.Campaigns, a.Sessions, campaignQ, contactQ, a.Hub, log)
	a.Scheduler = service.NewContactScheduler(a.Campaigns, a.Sessions, calls, contactQ, a.Hub, log)
	a.Audio = service.NewAudioPipeline(a.Sessions, storage, analysis, audioQ, a.Hub, log)
	a.Analytics = service.NewAnalytics(a.Sessions, cache, analyticsQ, a.Hub, log)
	a.Recurring = service.NewRecurringScheduler(a.Jobs, time.UTC, log)
	a.CallEvent = callevents.NewHandler(a.Sessions, a.Scheduler, a.Jobs, a.Hub, log)

	return a, nil
}

// RunWorkers processes every queue, the recurring schedule and, when
// configured, the call-event consumer until ctx is done or one of them fails.
func (a *App) RunWorkers(ctx context.Context) error {
	for name, q := range a.Queues {
		n, err := q.RecoverStalled()
		if err != nil {
			return fmt.Errorf("recover %s: %w", name, err)
		}
		if n > 0 {
			a.Log.Warn().Str("queue", name).Int("tasks", n).Msg("requeued stalled tasks")
		}
	}

	w := service.NewWorker(a.Log).
		Handle(a.Queues[config.QueueCampaign], a.Executor.Handle).
		Handle(a.Queues[config.QueueContactCalls], a.Scheduler.Handle).
		Handle(a.Queues[config.QueueAudio], a.Audio.Handle).
		Handle(a.Queues[config.QueueAnalytics], a.Analytics.Handle).
		Handle(a.Queues[config.QueueRecurringAnalytics], a.Analytics.HandleRecurring)

	if err := a.Recurring.Start(); err != nil {
		return fmt.Errorf("recurring schedule: %w", err)
	}
	defer a.Recurring.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Start(ctx) })
	g.Go(func() error {
		db.RunBadgerGC(ctx, a.Badger, 10*time.Minute)
		return nil
	})
	if a.Cfg.AMQPURL != "" {
		consumer := callevents.NewConsumer(callevents.Config{
			URL:      a.Cfg.AMQPURL,
			Exchange: a.Cfg.AMQPExchange,
			Queue:    a.Cfg.AMQPQueue,
		}, a.CallEvent, a.Log)
		g.Go(func() error { return consumer.Run(ctx) })
	} else {
		a.Log.Warn().Msg("AMQP_URL not set, call events will not be consumed")
	}
	return g.Wait()
}

// Close releases the hub, the queues and both stores.
func (a *App) Close() error {
	if a.Hub != nil {
		a.Hub.Close()
	}
	var errs []error
	for _, q := range a.Queues {
		errs = append(errs, q.Close())
	}
	if a.Badger != nil {
		errs = append(errs, a.Badger.Close())
	}
	if a.SQL != nil {
		errs = append(errs, a.SQL.Close())
	}
	return errors.Join(errs...)
}
