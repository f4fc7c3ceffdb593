// internal/callevents/handler.go
package callevents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/repository"
	"github.com/unclebandit/voicereach-engine/internal/service"
)

// Routing keys published by the call engine.
const (
	EventAnswered = "call.answered"
	EventEnded    = "call.ended"
)

// Event is one call lifecycle notification.
type Event struct {
	Type        string           `json:"type" validate:"required,oneof=call.answered call.ended"`
	CallID      string           `json:"callId" validate:"required"`
	Result      model.CallResult `json:"result,omitempty" validate:"omitempty,oneof=successful failed hung_up no_answer"`
	Duration    int              `json:"duration" validate:"gte=0"`
	AgentID     string           `json:"agentId,omitempty"`
	AudioFileID string           `json:"audioFileId,omitempty"`
	AudioURL    string           `json:"audioUrl,omitempty" validate:"omitempty,url"`
	Metadata    model.Metadata   `json:"metadata,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Outcomes records how a dialed call ended for its contact.
type Outcomes interface {
	HandleCallOutcome(ctx context.Context, sess *model.Session, result model.CallResult) (service.CallOutcome, error)
}

// AudioSubmitter queues recordings for analysis.
type AudioSubmitter interface {
	AddAudioJob(ctx context.Context, job model.AudioJob) (string, error)
}

var (
	_ Outcomes       = (*service.ContactScheduler)(nil)
	_ AudioSubmitter = (*service.Jobs)(nil)
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler applies call events to sessions and contacts.
type Handler struct {
	Sessions repository.SessionRepositoryInterface
	Outcomes Outcomes
	Audio    AudioSubmitter
	Hub      service.Broadcaster
	Log      zerolog.Logger
	Now      func() time.Time
}

func NewHandler(sessions repository.SessionRepositoryInterface, outcomes Outcomes, audio AudioSubmitter, hub service.Broadcaster, log zerolog.Logger) *Handler {
	return &Handler{
		Sessions: sessions,
		Outcomes: outcomes,
		Audio:    audio,
		Hub:      hub,
		Log:      log.With().Str("comp", "callevents").Logger(),
		Now:      time.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, ev Event) error {
	if err := validate.Struct(ev); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return appErrors.NewValidation(verrs[0].Field(), "failed "+verrs[0].Tag())
		}
		return appErrors.NewValidation("", err.Error())
	}
	if ev.Type == EventEnded && ev.Result == "" {
		return appErrors.NewValidation("Result", "required for "+EventEnded)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.Now()
	}
	sess, err := h.Sessions.GetByCallID(ctx, ev.CallID)
	if err != nil {
		return err
	}

	switch ev.Type {
	case EventAnswered:
		return h.answered(ctx, sess, ev)
	default:
		return h.ended(ctx, sess, ev)
	}
}

func (h *Handler) emit(sess *model.Session, event string, data any) {
	if sess.CampaignID != "" {
		h.Hub.EmitToCampaign(sess.CampaignID, event, data)
		return
	}
	h.Hub.EmitGlobal(event, data)
}

func (h *Handler) answered(ctx context.Context, sess *model.Session, ev Event) error {
	status := model.SessionAnswered
	upd := model.SessionUpdate{Status: &status}
	if ev.AgentID != "" {
		upd.AgentID = &ev.AgentID
	}
	if err := h.Sessions.Update(ctx, sess.ID, upd); err != nil {
		return fmt.Errorf("mark answered: %w", err)
	}
	ts := ev.Timestamp.UTC()
	h.emit(sess, model.EventCallAnswered, model.CallAnsweredEvent{SessionID: sess.ID, Duration: ev.Duration, Timestamp: ts})
	h.emit(sess, model.EventSessionUpdated, model.SessionUpdatedEvent{
		SessionID: sess.ID,
		Changes:   map[string]any{"status": status},
		Timestamp: ts,
	})
	h.Log.Debug().Str("session", sess.ID).Str("call", ev.CallID).Msg("call answered")
	return nil
}

// ended marks the session completed only after the contact outcome and the
// audio job are stored; redelivering a partially applied event repeats both.
func (h *Handler) ended(ctx context.Context, sess *model.Session, ev Event) error {
	if sess.Status == model.SessionCompleted {
		// redelivery of an event already applied
		h.Log.Debug().Str("session", sess.ID).Msg("session already completed")
		return nil
	}

	if sess.CampaignID != "" && sess.ContactID != "" {
		out, err := h.Outcomes.HandleCallOutcome(ctx, sess, ev.Result)
		if err != nil {
			return fmt.Errorf("contact outcome: %w", err)
		}
		h.Log.Debug().Str("session", sess.ID).Str("outcome", string(out)).Msg("contact outcome recorded")
	}

	if ev.AudioFileID != "" || ev.AudioURL != "" {
		_, err := h.Audio.AddAudioJob(ctx, model.AudioJob{
			SessionID:   sess.ID,
			AudioFileID: ev.AudioFileID,
			AudioURL:    ev.AudioURL,
			CampaignID:  sess.CampaignID,
		})
		if err != nil {
			return fmt.Errorf("queue audio: %w", err)
		}
	}

	status := model.SessionCompleted
	end := ev.Timestamp
	upd := model.SessionUpdate{
		Status:   &status,
		Result:   &ev.Result,
		Duration: &ev.Duration,
		EndTime:  &end,
		Metadata: ev.Metadata,
	}
	if ev.AudioFileID != "" {
		upd.AudioFileID = &ev.AudioFileID
	}
	if ev.AgentID != "" {
		upd.AgentID = &ev.AgentID
	}
	if err := h.Sessions.Update(ctx, sess.ID, upd); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	ts := ev.Timestamp.UTC()
	h.emit(sess, model.EventCallEnded, model.CallEndedEvent{SessionID: sess.ID, Duration: ev.Duration, Result: ev.Result, Timestamp: ts})
	h.emit(sess, model.EventSessionCompleted, model.SessionCompletedEvent{SessionID: sess.ID, Duration: ev.Duration, Result: ev.Result, Timestamp: ts})
	h.Log.Info().Str("session", sess.ID).Str("call", ev.CallID).Str("result", string(ev.Result)).Int("duration", ev.Duration).Msg("call ended")
	return nil
}
