// internal/service/contact_scheduler.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/integrations"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/queue"
	"github.com/unclebandit/voicereach-engine/internal/repository"
)

const DefaultWindowDelay = time.Hour

// CallEngine places outbound calls.
type CallEngine interface {
	InitiateCall(ctx context.Context, req integrations.CallRequest) (string, error)
}

var _ CallEngine = (*integrations.CallEngine)(nil)

type CallOutcome string

const (
	OutcomeDialed           CallOutcome = "dialed"
	OutcomeSkipped          CallOutcome = "skipped"
	OutcomeAlreadyProcessed CallOutcome = "already_processed"
	OutcomeRescheduled      CallOutcome = "rescheduled"
	OutcomeDeferred         CallOutcome = "deferred"
	OutcomeRetrying         CallOutcome = "retrying"
	OutcomeFailed           CallOutcome = "failed"
)

// ContactScheduler dials one contact per contact-calls task.
type ContactScheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Sessions  repository.SessionRepositoryInterface
	Calls     CallEngine
	Queue     TaskQueue // contact-calls
	Hub       Broadcaster
	Log       zerolog.Logger

	WindowDelay  time.Duration
	PauseRecheck time.Duration
	Now          func() time.Time
}

func NewContactScheduler(campaigns repository.CampaignRepositoryInterface, sessions repository.SessionRepositoryInterface,
	calls CallEngine, q TaskQueue, hub Broadcaster, log zerolog.Logger) *ContactScheduler {
	return &ContactScheduler{
		Campaigns:    campaigns,
		Sessions:     sessions,
		Calls:        calls,
		Queue:        q,
		Hub:          hub,
		Log:          log.With().Str("comp", "scheduler").Logger(),
		WindowDelay:  DefaultWindowDelay,
		PauseRecheck: DefaultPauseRecheck,
		Now:          time.Now,
	}
}

// Handle is the contact-calls queue handler.
func (s *ContactScheduler) Handle(ctx context.Context, t *queue.Task) error {
	var job model.ContactCallJob
	if err := decodeJob(t, &job); err != nil {
		return err
	}
	out, err := s.Process(ctx, job)
	s.Log.Debug().Str("campaign", job.CampaignID).Str("contact", job.ContactID).Int("attempt", job.AttemptNumber).Str("outcome", string(out)).Msg("contact task done")
	return err
}

// Process runs the eligibility checks and, when they pass, dials the contact.
func (s *ContactScheduler) Process(ctx context.Context, job model.ContactCallJob) (CallOutcome, error) {
	c, err := s.Campaigns.GetByID(ctx, job.CampaignID)
	if appErrors.IsNotFound(err) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	switch c.Status {
	case model.CampaignRunning:
	case model.CampaignPaused:
		if err := s.enqueue(ctx, job, s.PauseRecheck, queue.PriorityFrom(job.Priority), "deferred"); err != nil {
			return "", err
		}
		return OutcomeDeferred, nil
	default:
		return OutcomeSkipped, nil
	}

	prev, err := s.Sessions.GetByContactAndCampaign(ctx, job.ContactID, job.CampaignID)
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if sessionCovers(prev, job.AttemptNumber) {
		return OutcomeAlreadyProcessed, nil
	}

	now := s.Now()
	if !c.Rules.AllowsCall(now) {
		if err := s.enqueue(ctx, job, s.WindowDelay, queue.PriorityFrom(job.Priority), "window"); err != nil {
			return "", err
		}
		s.Log.Debug().Str("campaign", c.ID).Str("contact", job.ContactID).Dur("delay", s.WindowDelay).Msg("outside calling window, rescheduled")
		return OutcomeRescheduled, nil
	}

	ct, err := s.Campaigns.GetContact(ctx, c.ID, job.ContactID)
	if appErrors.IsNotFound(err) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	if ct.Status != model.ContactPending {
		return OutcomeSkipped, nil
	}
	prio := ct.CallPriority(now)

	callID, err := s.Calls.InitiateCall(ctx, integrations.CallRequest{
		PhoneNumber:  job.PhoneNumber,
		CustomerName: job.CustomerName,
		CampaignID:   c.ID,
		ContactID:    job.ContactID,
		FlowID:       c.FlowID,
		Priority:     prio,
	})
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("initiate call: %w", err))
	}

	sess := &model.Session{
		CampaignID:    c.ID,
		ContactID:     job.ContactID,
		CallID:        callID,
		PhoneNumber:   job.PhoneNumber,
		CustomerName:  job.CustomerName,
		AttemptNumber: job.AttemptNumber,
		Status:        model.SessionRinging,
		Metadata:      model.Metadata{"priority": string(prio)},
		StartTime:     now,
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		return s.fail(ctx, job, fmt.Errorf("create session: %w", err))
	}
	if err := s.Campaigns.UpdateContactStatus(ctx, c.ID, job.ContactID, model.ContactPending, job.AttemptNumber); err != nil {
		s.Log.Warn().Err(err).Str("contact", job.ContactID).Msg("record attempt")
	}

	s.Hub.EmitToCampaign(c.ID, model.EventSessionCreated, model.SessionCreatedEvent{
		SessionID:  sess.ID,
		CampaignID: c.ID,
		CustomerID: job.ContactID,
		StartTime:  sess.StartTime.UTC(),
		Status:     sess.Status,
	})
	s.Hub.EmitToCampaign(c.ID, model.EventCallRinging, model.CallRingingEvent{
		SessionID:    sess.ID,
		PhoneNumber:  job.PhoneNumber,
		CustomerName: job.CustomerName,
		CampaignID:   c.ID,
	})
	s.Log.Info().Str("campaign", c.ID).Str("contact", job.ContactID).Str("call", callID).Int("attempt", job.AttemptNumber).Str("priority", string(prio)).Msg("call initiated")
	return OutcomeDialed, nil
}

func (s *ContactScheduler) alreadySucceeded(ctx context.Context, contactID, campaignID string) (bool, error) {
	sess, err := s.Sessions.GetByContactAndCampaign(ctx, contactID, campaignID)
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	return sess != nil && sess.Result == model.ResultSuccessful, nil
}

// enqueue resubmits job unchanged after delay.
func (s *ContactScheduler) enqueue(ctx context.Context, job model.ContactCallJob, delay time.Duration, prio queue.Priority, reason string) error {
	_, err := s.Queue.Enqueue(ctx, queue.EnqueueOptions{
		Name:     TaskContactCall,
		Payload:  job,
		Priority: prio,
		Delay:    queue.After(delay),
		Tag:      job.CampaignID,
	})
	if err != nil {
		return fmt.Errorf("requeue contact %s (%s): %w", job.ContactID, reason, err)
	}
	return nil
}

// fail handles a dialing failure: another attempt at high priority while the
// budget lasts, otherwise the contact is marked failed. The returned error is
// final for this task either way.
func (s *ContactScheduler) fail(ctx context.Context, job model.ContactCallJob, cause error) (CallOutcome, error) {
	log := s.Log.With().Str("campaign", job.CampaignID).Str("contact", job.ContactID).Int("attempt", job.AttemptNumber).Int("max_attempts", job.MaxAttempts).Logger()
	out, err := s.retry(ctx, job, s.Queue.Backoff(job.AttemptNumber))
	if err != nil {
		// the follow-up was not stored; let the queue retry this attempt
		return "", fmt.Errorf("%w (retry not scheduled: %v)", cause, err)
	}
	switch out {
	case OutcomeRetrying:
		log.Warn().Err(cause).Msg("call attempt failed, retry scheduled")
	case OutcomeFailed:
		s.markFailed(ctx, job.CampaignID, job.ContactID, job.AttemptNumber, cause)
		log.Error().Err(cause).Msg("contact failed permanently")
	}
	return out, queue.NoRetry(cause)
}

// retry enqueues attempt+1 at high priority. It returns OutcomeFailed when the
// attempt budget is spent and OutcomeAlreadyProcessed when the contact has a
// successful session.
func (s *ContactScheduler) retry(ctx context.Context, job model.ContactCallJob, delay time.Duration) (CallOutcome, error) {
	if done, err := s.alreadySucceeded(ctx, job.ContactID, job.CampaignID); err != nil || done {
		return OutcomeAlreadyProcessed, err
	}
	if job.AttemptNumber >= job.MaxAttempts {
		return OutcomeFailed, nil
	}
	if err := s.Campaigns.UpdateContactStatus(ctx, job.CampaignID, job.ContactID, model.ContactPending, job.AttemptNumber); err != nil {
		s.Log.Warn().Err(err).Str("contact", job.ContactID).Msg("record attempt")
	}

	next := job
	next.AttemptNumber++
	next.Priority = model.PriorityHigh
	_, err := s.Queue.Enqueue(ctx, queue.EnqueueOptions{
		Name:     TaskContactCall,
		Payload:  next,
		Priority: queue.PriorityHigh,
		Delay:    queue.After(delay),
		DedupKey: callDedupKey(job.CampaignID, job.ContactID, next.AttemptNumber),
		Tag:      job.CampaignID,
	})
	if err != nil {
		return "", err
	}
	return OutcomeRetrying, nil
}

func (s *ContactScheduler) markFailed(ctx context.Context, campaignID, contactID string, attempt int, cause error) {
	if err := s.Campaigns.UpdateContactStatus(ctx, campaignID, contactID, model.ContactFailed, attempt); err != nil {
		s.Log.Error().Err(err).Str("contact", contactID).Msg("mark contact failed")
	}
	s.Hub.EmitToCampaign(campaignID, model.EventError,
		errorEvent(model.CodeContactCallFailed, fmt.Sprintf("Call to contact %s failed after %d attempts: %v", contactID, attempt, cause), s.Now()))
}

// HandleCallOutcome records how a dialed call ended. Success closes the
// contact; any other result spends the next attempt or fails the contact.
func (s *ContactScheduler) HandleCallOutcome(ctx context.Context, sess *model.Session, result model.CallResult) (CallOutcome, error) {
	if sess.CampaignID == "" || sess.ContactID == "" {
		return OutcomeSkipped, nil
	}
	if result == model.ResultSuccessful {
		if err := s.Campaigns.UpdateContactStatus(ctx, sess.CampaignID, sess.ContactID, model.ContactSucceeded, sess.AttemptNumber); err != nil {
			return "", err
		}
		return OutcomeDialed, nil
	}

	c, err := s.Campaigns.GetByID(ctx, sess.CampaignID)
	if err != nil {
		return "", err
	}
	if c.Status.Terminal() {
		return OutcomeSkipped, nil
	}
	ct, err := s.Campaigns.GetContact(ctx, c.ID, sess.ContactID)
	if err != nil {
		return "", err
	}
	if ct.Status != model.ContactPending {
		return OutcomeSkipped, nil
	}

	job := model.ContactCallJob{
		CampaignID:    c.ID,
		ContactID:     ct.ID,
		PhoneNumber:   ct.PhoneNumber,
		CustomerName:  ct.CustomerName,
		AttemptNumber: max(sess.AttemptNumber, 1),
		MaxAttempts:   c.Rules.Attempts(),
	}
	out, err := s.retry(ctx, job, s.Queue.Backoff(job.AttemptNumber))
	if err != nil {
		return "", err
	}
	switch out {
	case OutcomeRetrying:
		s.Log.Info().Str("campaign", c.ID).Str("contact", ct.ID).Str("result", string(result)).Msg("call unsuccessful, retry scheduled")
	case OutcomeFailed:
		s.markFailed(ctx, c.ID, ct.ID, job.AttemptNumber, fmt.Errorf("last call ended %s", result))
	}
	return out, nil
}
