// internal/service/recurring.go
package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/voicereach-engine/internal/model"
)

// RecurringSchedules maps each recurring analytics tick to its cron spec.
var RecurringSchedules = map[model.RecurringType]string{
	model.RecurringHourly:  "@hourly",
	model.RecurringDaily:   "@daily",
	model.RecurringWeekly:  "@weekly",
	model.RecurringMonthly: "@monthly",
}

// RecurringSubmitter is the part of Jobs the cron ticks call.
type RecurringSubmitter interface {
	AddRecurringAnalyticsJob(ctx context.Context, job model.RecurringAnalyticsJob) (string, error)
}

// RecurringScheduler submits recurring analytics ticks on a cron schedule.
type RecurringScheduler struct {
	jobs RecurringSubmitter
	cron *cron.Cron
	log  zerolog.Logger
}

func NewRecurringScheduler(jobs RecurringSubmitter, loc *time.Location, log zerolog.Logger) *RecurringScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &RecurringScheduler{
		jobs: jobs,
		cron: cron.New(cron.WithLocation(loc)),
		log:  log.With().Str("comp", "recurring").Logger(),
	}
}

// Start registers every schedule and starts the cron loop.
func (s *RecurringScheduler) Start() error {
	for _, typ := range []model.RecurringType{model.RecurringHourly, model.RecurringDaily, model.RecurringWeekly, model.RecurringMonthly} {
		spec := RecurringSchedules[typ]
		if _, err := s.cron.AddFunc(spec, func() { s.Tick(context.Background(), typ) }); err != nil {
			return err
		}
		s.log.Info().Str("type", string(typ)).Str("schedule", spec).Msg("recurring analytics scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running tick to return.
func (s *RecurringScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("recurring analytics stopped")
}

// Tick submits one recurring job of type typ.
func (s *RecurringScheduler) Tick(ctx context.Context, typ model.RecurringType) {
	prio := model.PriorityNormal
	if typ == model.RecurringWeekly || typ == model.RecurringMonthly {
		prio = model.PriorityLow
	}
	id, err := s.jobs.AddRecurringAnalyticsJob(ctx, model.RecurringAnalyticsJob{Type: typ, Priority: prio})
	if err != nil {
		s.log.Error().Err(err).Str("type", string(typ)).Msg("submit recurring analytics")
		return
	}
	s.log.Debug().Str("type", string(typ)).Str("task", id).Msg("recurring analytics submitted")
}
