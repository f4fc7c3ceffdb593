// internal/service/analytics.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/queue"
	"github.com/unclebandit/voicereach-engine/internal/repository"
)

const analyticsSessionLimit = 10000

// Analytics computes session metrics, caching results by (type, range,
// campaign, agent) for TTL.
type Analytics struct {
	Sessions repository.SessionRepositoryInterface
	Cache    repository.AnalyticsCache
	Queue    TaskQueue // analytics-calculation, target of recurring ticks
	Hub      Broadcaster
	Log      zerolog.Logger

	TTL time.Duration
	Now func() time.Time
}

func NewAnalytics(sessions repository.SessionRepositoryInterface, cache repository.AnalyticsCache, q TaskQueue, hub Broadcaster, log zerolog.Logger) *Analytics {
	return &Analytics{
		Sessions: sessions,
		Cache:    cache,
		Queue:    q,
		Hub:      hub,
		Log:      log.With().Str("comp", "analytics").Logger(),
		TTL:      model.DefaultAnalyticsTTL,
		Now:      time.Now,
	}
}

// Handle is the analytics-calculation queue handler.
func (a *Analytics) Handle(ctx context.Context, t *queue.Task) error {
	var job model.AnalyticsJob
	if err := decodeJob(t, &job); err != nil {
		return err
	}
	if _, err := a.Calculate(ctx, job); err != nil {
		a.Log.Error().Err(err).Str("type", string(job.Type)).Msg("analytics calculation failed")
		a.Hub.EmitGlobal(model.EventError, errorEvent(model.CodeAnalyticsCalculation,
			fmt.Sprintf("Analytics calculation failed: %s", job.Type), a.Now()))
		return err
	}
	return nil
}

// Calculate returns the cached result when it is still fresh and forceRecalc is
// off; otherwise it computes, stores and broadcasts a new one.
func (a *Analytics) Calculate(ctx context.Context, job model.AnalyticsJob) (json.RawMessage, error) {
	key := model.AnalyticsCacheKey(job.Type, job.DateRange, job.CampaignID, job.AgentID)
	now := a.Now()

	if !job.ForceRecalc && job.Type != model.AnalyticsFullRecalc {
		entry, err := a.Cache.Get(ctx, key)
		if err != nil {
			a.Log.Warn().Err(err).Str("key", key).Msg("analytics cache read failed")
		} else if entry != nil && entry.Fresh(now) {
			a.Log.Debug().Str("key", key).Msg("analytics cache hit")
			return entry.Data, nil
		}
	}

	result, err := a.compute(ctx, job)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", job.Type, err)
	}
	entry := model.AnalyticsCacheEntry{Key: key, Type: job.Type, Data: data, Timestamp: now, TTL: a.TTL}
	if err := a.Cache.Set(ctx, entry); err != nil {
		a.Log.Warn().Err(err).Str("key", key).Msg("analytics cache write failed")
	}

	a.Hub.EmitGlobal(model.EventAnalyticsUpdated, model.AnalyticsUpdatedEvent{Type: string(job.Type), Data: data, Timestamp: now.UTC()})
	a.Log.Info().Str("type", string(job.Type)).Str("campaign", job.CampaignID).Msg("analytics calculated")
	return data, nil
}

func (a *Analytics) compute(ctx context.Context, job model.AnalyticsJob) (any, error) {
	switch job.Type {
	case model.AnalyticsConversationMetrics:
		return a.conversationMetrics(ctx, job.DateRange, job.CampaignID)
	case model.AnalyticsSentimentDistribution:
		return a.sentimentDistribution(ctx, job.DateRange, job.CampaignID)
	case model.AnalyticsAgentPerformance:
		return a.agentPerformance(ctx, job.DateRange, job.AgentID)
	case model.AnalyticsHourlyEffectiveness:
		return a.hourlyEffectiveness(ctx, job.DateRange, job.CampaignID)
	case model.AnalyticsPaymentFailures:
		return a.paymentFailures(ctx, job.DateRange, job.CampaignID)
	case model.AnalyticsDashboard:
		return a.dashboard(ctx, job.DateRange, job.CampaignID)
	case model.AnalyticsFullRecalc:
		return a.fullRecalc(ctx, job.DateRange)
	default:
		return nil, appErrors.NewValidation("type", "unknown analytics type "+string(job.Type))
	}
}

func (a *Analytics) sessions(ctx context.Context, r *model.DateRange, campaignID, agentID string) ([]model.Session, error) {
	f := model.SessionFilter{CampaignID: campaignID, AgentID: agentID, Limit: analyticsSessionLimit}
	if r != nil {
		f.From, f.To = &r.StartDate, &r.EndDate
	}
	ss, err := a.Sessions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ss, nil
}

func avgDuration(ss []model.Session) int {
	if len(ss) == 0 {
		return 0
	}
	sum := 0
	for _, s := range ss {
		sum += s.Duration
	}
	return int(float64(sum)/float64(len(ss)) + 0.5)
}

func countResult(ss []model.Session, r model.CallResult) int {
	n := 0
	for _, s := range ss {
		if s.Result == r {
			n++
		}
	}
	return n
}

func (a *Analytics) conversationMetrics(ctx context.Context, r *model.DateRange, campaignID string) (model.ConversationMetrics, error) {
	ss, err := a.sessions(ctx, r, campaignID, "")
	if err != nil {
		return model.ConversationMetrics{}, err
	}
	ok := countResult(ss, model.ResultSuccessful)
	return model.ConversationMetrics{
		TotalConversations:      len(ss),
		SuccessfulConversations: ok,
		FailedConversations:     countResult(ss, model.ResultFailed),
		SuccessRate:             model.Percent(ok, len(ss)),
		AvgDuration:             avgDuration(ss),
		DateRange:               r,
		CampaignID:              campaignID,
		CalculatedAt:            a.Now().UTC(),
	}, nil
}

func (a *Analytics) sentimentDistribution(ctx context.Context, r *model.DateRange, campaignID string) (model.SentimentDistribution, error) {
	ss, err := a.sessions(ctx, r, campaignID, "")
	if err != nil {
		return model.SentimentDistribution{}, err
	}
	counts := map[model.Sentiment]int{}
	total := 0
	for _, s := range ss {
		if s.SentimentAnalysis == nil {
			continue
		}
		counts[s.SentimentAnalysis.Overall]++
		total++
	}
	dist := make(map[model.Sentiment]model.SentimentBucket, 3)
	for _, k := range []model.Sentiment{model.SentimentPositive, model.SentimentNeutral, model.SentimentNegative} {
		dist[k] = model.SentimentBucket{Count: counts[k], Percentage: model.Percent(counts[k], total)}
	}
	return model.SentimentDistribution{
		Distribution:  dist,
		TotalSessions: total,
		DateRange:     r,
		CampaignID:    campaignID,
		CalculatedAt:  a.Now().UTC(),
	}, nil
}

var sentimentScore = map[model.Sentiment]float64{
	model.SentimentPositive: 5,
	model.SentimentNeutral:  3,
	model.SentimentNegative: 1,
}

func agentStats(agentID string, ss []model.Session) model.AgentStats {
	st := model.AgentStats{AgentID: agentID, TotalCalls: len(ss), AvgCallDuration: avgDuration(ss)}
	st.SuccessfulCalls = countResult(ss, model.ResultSuccessful)
	st.ConversionRate = model.Percent(st.SuccessfulCalls, st.TotalCalls)

	checked, compliant := 0, 0
	scored, score := 0, 0.0
	for _, s := range ss {
		if s.ProtocolCompliance != nil {
			checked++
			if s.ProtocolCompliance.Compliant {
				compliant++
			}
		}
		if s.SentimentAnalysis != nil {
			scored++
			score += sentimentScore[s.SentimentAnalysis.Overall]
		}
	}
	st.ProtocolComplianceRate = model.Percent(compliant, checked)
	if scored > 0 {
		st.CustomerSatisfactionScore = model.Round2(score / float64(scored))
	}
	return st
}

func (a *Analytics) agentPerformance(ctx context.Context, r *model.DateRange, agentID string) (model.AgentPerformance, error) {
	ss, err := a.sessions(ctx, r, "", agentID)
	if err != nil {
		return model.AgentPerformance{}, err
	}
	byAgent := map[string][]model.Session{}
	var withAgent []model.Session
	for _, s := range ss {
		if s.AgentID == "" {
			continue
		}
		byAgent[s.AgentID] = append(byAgent[s.AgentID], s)
		withAgent = append(withAgent, s)
	}

	out := model.AgentPerformance{
		AgentStats:   agentStats(agentID, withAgent),
		DateRange:    r,
		CalculatedAt: a.Now().UTC(),
	}
	if agentID == "" {
		ids := make([]string, 0, len(byAgent))
		for id := range byAgent {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out.Agents = append(out.Agents, agentStats(id, byAgent[id]))
		}
	}
	return out, nil
}

func (a *Analytics) hourlyEffectiveness(ctx context.Context, r *model.DateRange, campaignID string) (model.HourlyEffectiveness, error) {
	ss, err := a.sessions(ctx, r, campaignID, "")
	if err != nil {
		return model.HourlyEffectiveness{}, err
	}
	stats := make([]model.HourStat, 24)
	durations := make([]int, 24)
	for h := range stats {
		stats[h].Hour = h
	}
	for _, s := range ss {
		h := s.StartTime.UTC().Hour()
		stats[h].TotalCalls++
		durations[h] += s.Duration
		if s.Result == model.ResultSuccessful {
			stats[h].SuccessfulCalls++
		}
	}
	for h := range stats {
		if n := stats[h].TotalCalls; n > 0 {
			stats[h].AvgDuration = int(float64(durations[h])/float64(n) + 0.5)
			stats[h].SuccessRate = model.Percent(stats[h].SuccessfulCalls, n)
		}
	}
	return model.HourlyEffectiveness{
		HourlyStats:  stats,
		DateRange:    r,
		CampaignID:   campaignID,
		CalculatedAt: a.Now().UTC(),
	}, nil
}

const paymentFailed = "failed"

func (a *Analytics) paymentFailures(ctx context.Context, r *model.DateRange, campaignID string) (model.PaymentFailures, error) {
	ss, err := a.sessions(ctx, r, campaignID, "")
	if err != nil {
		return model.PaymentFailures{}, err
	}
	attempts, failed := 0, 0
	reasons := map[string]int{}
	for _, s := range ss {
		status := s.Metadata[model.MetaPaymentStatus]
		if status == "" {
			continue
		}
		attempts++
		if status != paymentFailed {
			continue
		}
		failed++
		reason := s.Metadata[model.MetaPaymentFailureReason]
		if reason == "" {
			reason = "unknown"
		}
		reasons[reason]++
	}

	common := make([]model.FailureReason, 0, len(reasons))
	for reason, n := range reasons {
		common = append(common, model.FailureReason{Reason: reason, Count: n})
	}
	sort.Slice(common, func(i, j int) bool {
		if common[i].Count != common[j].Count {
			return common[i].Count > common[j].Count
		}
		return common[i].Reason < common[j].Reason
	})
	if len(common) > 5 {
		common = common[:5]
	}
	return model.PaymentFailures{
		TotalPaymentAttempts: attempts,
		FailedPayments:       failed,
		FailureRate:          model.Percent(failed, attempts),
		CommonFailureReasons: common,
		DateRange:            r,
		CampaignID:           campaignID,
		CalculatedAt:         a.Now().UTC(),
	}, nil
}

// dashboard computes its three parts concurrently; any failure fails the whole.
func (a *Analytics) dashboard(ctx context.Context, r *model.DateRange, campaignID string) (model.Dashboard, error) {
	var d model.Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.ConversationMetrics, err = a.conversationMetrics(gctx, r, campaignID)
		return err
	})
	g.Go(func() (err error) {
		d.SentimentDistribution, err = a.sentimentDistribution(gctx, r, campaignID)
		return err
	})
	g.Go(func() (err error) {
		d.HourlyEffectiveness, err = a.hourlyEffectiveness(gctx, r, campaignID)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Dashboard{}, err
	}
	d.DateRange = r
	d.CalculatedAt = a.Now().UTC()
	return d, nil
}

// fullRecalc clears the cache and recomputes every type; one type failing
// is reported in its item and does not fail the rest.
func (a *Analytics) fullRecalc(ctx context.Context, r *model.DateRange) (model.FullRecalc, error) {
	if err := a.Cache.Clear(ctx); err != nil {
		return model.FullRecalc{}, fmt.Errorf("clear analytics cache: %w", err)
	}
	types := []model.AnalyticsType{
		model.AnalyticsConversationMetrics,
		model.AnalyticsSentimentDistribution,
		model.AnalyticsAgentPerformance,
		model.AnalyticsHourlyEffectiveness,
		model.AnalyticsPaymentFailures,
		model.AnalyticsDashboard,
	}
	items := make([]model.RecalcItem, len(types))
	var g errgroup.Group
	for i, typ := range types {
		g.Go(func() error {
			data, err := a.compute(ctx, model.AnalyticsJob{Type: typ, DateRange: r})
			items[i] = model.RecalcItem{Type: typ, Success: err == nil, Data: data}
			if err != nil {
				items[i].Error = err.Error()
			}
			return nil
		})
	}
	g.Wait()

	ok := 0
	for _, it := range items {
		if it.Success {
			ok++
		}
	}
	a.Log.Info().Int("total", len(items)).Int("successful", ok).Msg("full recalculation done")
	return model.FullRecalc{FullRecalculation: true, Results: items, DateRange: r, CalculatedAt: a.Now().UTC()}, nil
}

// RecurringJobs lists the analytics jobs a recurring tick submits, with the
// date range trailing now.
func RecurringJobs(typ model.RecurringType, now time.Time) []model.AnalyticsJob {
	r := typ.Window(now)
	job := func(t model.AnalyticsType, p model.Priority) model.AnalyticsJob {
		rr := r
		return model.AnalyticsJob{Type: t, DateRange: &rr, ForceRecalc: true, Priority: p}
	}
	switch typ {
	case model.RecurringHourly:
		return []model.AnalyticsJob{job(model.AnalyticsHourlyEffectiveness, model.PriorityNormal)}
	case model.RecurringDaily:
		return []model.AnalyticsJob{
			job(model.AnalyticsDashboard, model.PriorityNormal),
			job(model.AnalyticsAgentPerformance, model.PriorityNormal),
		}
	case model.RecurringWeekly:
		return []model.AnalyticsJob{job(model.AnalyticsFullRecalc, model.PriorityLow)}
	case model.RecurringMonthly:
		return []model.AnalyticsJob{job(model.AnalyticsDashboard, model.PriorityLow)}
	}
	return nil
}

// HandleRecurring is the recurring-analytics queue handler.
func (a *Analytics) HandleRecurring(ctx context.Context, t *queue.Task) error {
	var job model.RecurringAnalyticsJob
	if err := decodeJob(t, &job); err != nil {
		return err
	}
	for _, j := range RecurringJobs(job.Type, a.Now()) {
		_, err := a.Queue.Enqueue(ctx, queue.EnqueueOptions{
			Name:     string(j.Type),
			Payload:  j,
			Priority: queue.PriorityFrom(j.Priority),
		})
		if err != nil {
			return fmt.Errorf("recurring %s: enqueue %s: %w", job.Type, j.Type, err)
		}
	}
	a.Log.Info().Str("recurring", string(job.Type)).Msg("recurring analytics submitted")
	return nil
}
