// internal/service/campaign_executor.go
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/queue"
	"github.com/unclebandit/voicereach-engine/internal/repository"
)

const (
	DefaultBatchSize      = 50
	DefaultBatchInterval  = 500 * time.Millisecond
	DefaultStatusInterval = 5 * time.Minute
	DefaultPauseRecheck   = time.Minute
)

// CampaignExecutor runs campaign lifecycle actions taken off the
// campaign-execution queue.
type CampaignExecutor struct {
	Campaigns repository.CampaignRepositoryInterface
	Sessions  repository.SessionRepositoryInterface
	Campaign  TaskQueue // campaign-execution
	Contacts  TaskQueue // contact-calls
	Hub       Broadcaster
	Log       zerolog.Logger

	BatchSize      int
	BatchInterval  time.Duration
	StatusInterval time.Duration
	PauseRecheck   time.Duration
	Now            func() time.Time
}

func NewCampaignExecutor(repo repository.CampaignRepositoryInterface, sessions repository.SessionRepositoryInterface, campaignQ, contactQ TaskQueue, hub Broadcaster, log zerolog.Logger) *CampaignExecutor {
	return &CampaignExecutor{
		Campaigns:      repo,
		Sessions:       sessions,
		Campaign:       campaignQ,
		Contacts:       contactQ,
		Hub:            hub,
		Log:            log.With().Str("comp", "campaign").Logger(),
		BatchSize:      DefaultBatchSize,
		BatchInterval:  DefaultBatchInterval,
		StatusInterval: DefaultStatusInterval,
		PauseRecheck:   DefaultPauseRecheck,
		Now:            time.Now,
	}
}

// Batch splits items into consecutive chunks of at most size.
func Batch[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// Handle is the campaign-execution queue handler.
func (e *CampaignExecutor) Handle(ctx context.Context, t *queue.Task) error {
	var job model.CampaignJob
	if err := decodeJob(t, &job); err != nil {
		return err
	}
	err := e.Execute(ctx, t.ID, job)
	if err != nil && !errors.Is(err, queue.ErrStopRepeat) {
		e.Log.Error().Err(err).Str("campaign", job.CampaignID).Str("action", string(job.Action)).Msg("campaign action failed")
		e.Hub.EmitToCampaign(job.CampaignID, model.EventError,
			errorEvent(model.CodeCampaignExecution, fmt.Sprintf("Campaign %s failed: %v", job.Action, err), e.Now()))
	}
	return err
}

// Execute applies one action. taskID identifies the running task so stop does
// not remove it from under itself.
func (e *CampaignExecutor) Execute(ctx context.Context, taskID string, job model.CampaignJob) error {
	switch job.Action {
	case model.ActionSchedule:
		return e.transition(ctx, job.CampaignID, model.CampaignScheduled)
	case model.ActionStart:
		return e.start(ctx, job.CampaignID)
	case model.ActionProcessContacts:
		return e.processContacts(ctx, job)
	case model.ActionCheckStatus:
		return e.checkStatus(ctx, job.CampaignID)
	case model.ActionPause:
		return e.transition(ctx, job.CampaignID, model.CampaignPaused)
	case model.ActionResume:
		return e.transition(ctx, job.CampaignID, model.CampaignRunning, model.CampaignPaused)
	case model.ActionStop:
		return e.stop(ctx, taskID, job.CampaignID)
	default:
		return appErrors.NewValidation("action", "unknown campaign action "+string(job.Action))
	}
}

// transition moves the campaign to status to. When from is given the current
// status must also be one of them.
func (e *CampaignExecutor) transition(ctx context.Context, id string, to model.CampaignStatus, from ...model.CampaignStatus) error {
	c, err := e.Campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(c.Status, to) || (len(from) > 0 && !slices.Contains(from, c.Status)) {
		return appErrors.NewInvalidTransition(string(c.Status), string(to))
	}
	if err := e.Campaigns.UpdateStatus(ctx, id, to); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	e.Log.Info().Str("campaign", id).Str("from", string(c.Status)).Str("to", string(to)).Msg("campaign status changed")
	e.broadcastStatus(id, to, nil)
	return nil
}

func (e *CampaignExecutor) broadcastStatus(id string, status model.CampaignStatus, p *model.CampaignProgress) {
	ev := model.CampaignStatusEvent{CampaignID: id, Status: status, Timestamp: e.Now().UTC()}
	if p != nil {
		pct := model.Round2(p.Percent())
		total, processed := p.TotalContacts, p.ProcessedContacts
		ev.Progress, ev.TotalContacts, ev.ProcessedContacts = &pct, &total, &processed
	}
	e.Hub.EmitToCampaign(id, model.EventCampaignStatus, ev)
}

// start moves a scheduled campaign to running and fans its contacts out in
// batches. On a campaign that is already running it repeats the fan-out of an
// interrupted start; the tasks it submits are dedup-keyed and each batch
// re-checks its contacts before dialing.
func (e *CampaignExecutor) start(ctx context.Context, id string) error {
	c, err := e.Campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	resumed := false
	switch c.Status {
	case model.CampaignScheduled:
		if err := e.Campaigns.UpdateStatus(ctx, id, model.CampaignRunning); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
	case model.CampaignRunning:
		resumed = true
	default:
		return appErrors.NewInvalidTransition(string(c.Status), string(model.CampaignRunning))
	}

	_, err = e.Campaign.Enqueue(ctx, queue.EnqueueOptions{
		Name:     string(model.ActionCheckStatus),
		Payload:  model.CampaignJob{CampaignID: id, Action: model.ActionCheckStatus},
		Priority: queue.PriorityNormal,
		Delay:    queue.After(0),
		DedupKey: "status-check-" + id,
		Tag:      id,
		Repeat:   e.StatusInterval,
	})
	if err != nil {
		return fmt.Errorf("schedule status check: %w", err)
	}

	contacts, err := e.Campaigns.GetContacts(ctx, id)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	ids := make([]string, 0, len(contacts))
	for _, ct := range contacts {
		ids = append(ids, ct.ID)
	}

	batches := Batch(ids, e.BatchSize)
	for i, b := range batches {
		_, err := e.Campaign.Enqueue(ctx, queue.EnqueueOptions{
			Name:     string(model.ActionProcessContacts),
			Payload:  model.CampaignJob{CampaignID: id, Action: model.ActionProcessContacts, ContactIDs: b},
			Priority: queue.PriorityNormal,
			Delay:    queue.After(time.Duration(i) * e.BatchInterval),
			DedupKey: batchDedupKey(id, i),
			Tag:      id,
		})
		if err != nil {
			return fmt.Errorf("enqueue batch %d/%d: %w", i+1, len(batches), err)
		}
	}

	e.Log.Info().Str("campaign", id).Int("contacts", len(ids)).Int("batches", len(batches)).Bool("resumed", resumed).Msg("campaign started")
	e.broadcastStatus(id, model.CampaignRunning, &model.CampaignProgress{TotalContacts: len(ids)})
	return nil
}

func (e *CampaignExecutor) processContacts(ctx context.Context, job model.CampaignJob) error {
	c, err := e.Campaigns.GetByID(ctx, job.CampaignID)
	if err != nil {
		return err
	}
	switch c.Status {
	case model.CampaignRunning:
	case model.CampaignPaused:
		_, err := e.Campaign.Enqueue(ctx, queue.EnqueueOptions{
			Name:     string(model.ActionProcessContacts),
			Payload:  job,
			Priority: queue.PriorityNormal,
			Delay:    queue.After(e.PauseRecheck),
			Tag:      job.CampaignID,
		})
		if err != nil {
			return fmt.Errorf("defer batch: %w", err)
		}
		e.Log.Debug().Str("campaign", c.ID).Int("contacts", len(job.ContactIDs)).Msg("campaign paused, batch deferred")
		return nil
	default:
		e.Log.Debug().Str("campaign", c.ID).Str("status", string(c.Status)).Msg("campaign not running, batch skipped")
		return nil
	}

	now := e.Now()
	maxAttempts := c.Rules.Attempts()
	queued := 0
	for _, contactID := range job.ContactIDs {
		ct, err := e.Campaigns.GetContact(ctx, c.ID, contactID)
		if appErrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load contact %s: %w", contactID, err)
		}
		if ct.Status != model.ContactPending || ct.Attempts >= maxAttempts {
			continue
		}

		attempt := ct.Attempts + 1
		sess, err := e.Sessions.GetByContactAndCampaign(ctx, ct.ID, c.ID)
		if err != nil {
			return fmt.Errorf("lookup session for %s: %w", ct.ID, err)
		}
		if sessionCovers(sess, attempt) || callInProgress(sess) {
			continue
		}
		prio := ct.CallPriority(now)
		_, err = e.Contacts.Enqueue(ctx, queue.EnqueueOptions{
			Name: TaskContactCall,
			Payload: model.ContactCallJob{
				CampaignID:    c.ID,
				ContactID:     ct.ID,
				PhoneNumber:   ct.PhoneNumber,
				CustomerName:  ct.CustomerName,
				AttemptNumber: attempt,
				MaxAttempts:   maxAttempts,
				Priority:      prio,
			},
			Priority: queue.PriorityFrom(prio),
			DedupKey: callDedupKey(c.ID, ct.ID, attempt),
			Tag:      c.ID,
		})
		if err != nil {
			return fmt.Errorf("enqueue call for %s: %w", ct.ID, err)
		}
		queued++
	}
	e.Log.Debug().Str("campaign", c.ID).Int("queued", queued).Int("batch", len(job.ContactIDs)).Msg("contact batch processed")
	return nil
}

// checkStatus reconciles aggregate progress. It ends its own repeat chain once
// the campaign is terminal.
func (e *CampaignExecutor) checkStatus(ctx context.Context, id string) error {
	c, err := e.Campaigns.GetByID(ctx, id)
	if appErrors.IsNotFound(err) {
		return queue.ErrStopRepeat
	}
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return queue.ErrStopRepeat
	}

	p, err := e.Campaigns.GetProgress(ctx, id)
	if err != nil {
		return fmt.Errorf("campaign progress: %w", err)
	}
	if p.Done() && c.Status == model.CampaignRunning {
		if err := e.Campaigns.UpdateStatus(ctx, id, model.CampaignCompleted); err != nil {
			return fmt.Errorf("complete campaign: %w", err)
		}
		e.Log.Info().Str("campaign", id).Int("contacts", p.TotalContacts).Msg("campaign completed")
		e.broadcastStatus(id, model.CampaignCompleted, &p)
		return queue.ErrStopRepeat
	}
	e.broadcastStatus(id, c.Status, &p)
	return nil
}

func (e *CampaignExecutor) stop(ctx context.Context, taskID, id string) error {
	c, err := e.Campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(c.Status, model.CampaignCancelled) {
		return appErrors.NewInvalidTransition(string(c.Status), string(model.CampaignCancelled))
	}
	if err := e.Campaigns.UpdateStatus(ctx, id, model.CampaignCancelled); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	match := func(t *queue.Task) bool { return t.Tag == id && t.ID != taskID }
	removed := 0
	for _, q := range []TaskQueue{e.Campaign, e.Contacts} {
		n, err := q.RemoveMatching(ctx, match)
		removed += n
		if err != nil {
			// handlers re-check status, so leftovers are harmless
			e.Log.Warn().Err(err).Str("campaign", id).Str("queue", q.Name()).Msg("remove campaign tasks")
		}
	}
	e.Log.Info().Str("campaign", id).Int("removed_tasks", removed).Msg("campaign cancelled")
	e.broadcastStatus(id, model.CampaignCancelled, nil)
	return nil
}

// sessionCovers reports whether sess already succeeded or already dialed
// attempt or a later one.
func sessionCovers(sess *model.Session, attempt int) bool {
	return sess != nil && (sess.Result == model.ResultSuccessful || sess.AttemptNumber >= attempt)
}

func callInProgress(sess *model.Session) bool {
	return sess != nil && (sess.Status == model.SessionRinging || sess.Status == model.SessionAnswered)
}

func batchDedupKey(campaignID string, n int) string {
	return fmt.Sprintf("batch-%s-%d", campaignID, n)
}

func callDedupKey(campaignID, contactID string, attempt int) string {
	return fmt.Sprintf("call-%s-%s-%d", campaignID, contactID, attempt)
}
