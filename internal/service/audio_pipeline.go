// internal/service/audio_pipeline.go
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

const (
	DefaultSignedURLTTL   = time.Hour
	DefaultInterItemDelay = time.Second
)

// FileStore resolves stored recordings.
type FileStore interface {
	FileMetadata(ctx context.Context, fileID string) (*integrations.FileMetadata, error)
	SignedURL(ctx context.Context, fileID string, ttl time.Duration) (string, error)
}

// AudioAnalyzer runs the language steps over a recording and its transcript.
type AudioAnalyzer interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
	AnalyzeSentiment(ctx context.Context, text string) (*model.SentimentAnalysis, error)
	DetectCompliance(ctx context.Context, text string) (*model.ProtocolCompliance, error)
	Summarize(ctx context.Context, text string, sentiment *model.SentimentAnalysis) (string, error)
}

var (
	_ FileStore     = (*integrations.Storage)(nil)
	_ AudioAnalyzer = (*integrations.Analysis)(nil)
)

// AudioPipeline analyzes finished calls, one session per audio-processing task.
type AudioPipeline struct {
	Sessions repository.SessionRepositoryInterface
	Files    FileStore
	Analyzer AudioAnalyzer
	Queue    TaskQueue // audio-processing
	Hub      Broadcaster
	Log      zerolog.Logger

	URLTTL         time.Duration
	InterItemDelay time.Duration
	Now            func() time.Time
}

func NewAudioPipeline(sessions repository.SessionRepositoryInterface, files FileStore, analyzer AudioAnalyzer,
	q TaskQueue, hub Broadcaster, log zerolog.Logger) *AudioPipeline {
	return &AudioPipeline{
		Sessions:       sessions,
		Files:          files,
		Analyzer:       analyzer,
		Queue:          q,
		Hub:            hub,
		Log:            log.With().Str("comp", "audio").Logger(),
		URLTTL:         DefaultSignedURLTTL,
		InterItemDelay: DefaultInterItemDelay,
		Now:            time.Now,
	}
}

// Handle is the audio-processing queue handler for single and batch tasks.
func (p *AudioPipeline) Handle(ctx context.Context, t *queue.Task) error {
	switch t.Name {
	case TaskAudioBatch:
		var job model.BatchAudioJob
		if err := decodeJob(t, &job); err != nil {
			return err
		}
		res := p.ProcessBatch(ctx, job.Items)
		p.Log.Info().Int("total", res.Total).Int("succeeded", res.Succeeded).Int("failed", res.Failed).Msg("audio batch done")
		return ctx.Err()
	default:
		var job model.AudioJob
		if err := decodeJob(t, &job); err != nil {
			return err
		}
		_, err := p.Process(ctx, job)
		return err
	}
}

type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func step(name string, err error) error {
	if err == nil {
		return nil
	}
	return &stepError{step: name, err: err}
}

// Process runs the full analysis chain for one session. On failure the session
// is marked failed and, while retries remain, the whole chain is resubmitted.
func (p *AudioPipeline) Process(ctx context.Context, job model.AudioJob) (*model.AudioProcessedEvent, error) {
	ev, err := p.run(ctx, job)
	if err != nil {
		return nil, p.fail(ctx, job, err)
	}
	return ev, nil
}

func (p *AudioPipeline) run(ctx context.Context, job model.AudioJob) (*model.AudioProcessedEvent, error) {
	processing := model.AudioProcessing
	if err := p.Sessions.Update(ctx, job.SessionID, model.SessionUpdate{AudioProcessingStatus: &processing}); err != nil {
		return nil, step("mark processing", err)
	}

	url := job.AudioURL
	if url == "" {
		if _, err := p.Files.FileMetadata(ctx, job.AudioFileID); err != nil {
			return nil, step("file metadata", err)
		}
		u, err := p.Files.SignedURL(ctx, job.AudioFileID, p.URLTTL)
		if err != nil {
			return nil, step("signed url", err)
		}
		url = u
	}

	transcript, err := p.Analyzer.Transcribe(ctx, url)
	if err != nil {
		return nil, step("transcribe", err)
	}
	sentiment, err := p.Analyzer.AnalyzeSentiment(ctx, transcript)
	if err != nil {
		return nil, step("sentiment", err)
	}
	compliance, err := p.Analyzer.DetectCompliance(ctx, transcript)
	if err != nil {
		return nil, step("compliance", err)
	}
	summary, err := p.Analyzer.Summarize(ctx, transcript, sentiment)
	if err != nil {
		return nil, step("summary", err)
	}

	completed := model.AudioCompleted
	noError := ""
	upd := model.SessionUpdate{
		Transcription:         &transcript,
		SentimentAnalysis:     sentiment,
		ProtocolCompliance:    compliance,
		Summary:               &summary,
		AudioProcessingStatus: &completed,
		AudioProcessingError:  &noError,
	}
	if job.AudioFileID != "" {
		upd.AudioFileID = &job.AudioFileID
	}
	if err := p.Sessions.Update(ctx, job.SessionID, upd); err != nil {
		return nil, step("persist results", err)
	}

	ev := &model.AudioProcessedEvent{
		SessionID:          job.SessionID,
		Transcription:      transcript,
		Sentiment:          sentiment,
		ProtocolCompliance: compliance,
		Summary:            summary,
		Timestamp:          p.Now().UTC(),
	}
	if job.CampaignID != "" {
		p.Hub.EmitToCampaign(job.CampaignID, model.EventAudioProcessed, ev)
	} else {
		p.Hub.EmitGlobal(model.EventAudioProcessed, ev)
	}
	p.Log.Info().Str("session", job.SessionID).Int("retry", job.RetryCount).Msg("audio processed")
	return ev, nil
}

func (p *AudioPipeline) fail(ctx context.Context, job model.AudioJob, cause error) error {
	failed := model.AudioFailed
	msg := cause.Error()
	if err := p.Sessions.Update(ctx, job.SessionID, model.SessionUpdate{AudioProcessingStatus: &failed, AudioProcessingError: &msg}); err != nil {
		p.Log.Error().Err(err).Str("session", job.SessionID).Msg("mark audio failed")
	}
	log := p.Log.With().Str("session", job.SessionID).Int("retry", job.RetryCount).Int("max_retries", job.MaxRetries).Logger()

	if job.RetryCount < job.MaxRetries && appErrors.IsRetryable(cause) {
		next := job
		next.RetryCount++
		next.Priority = model.PriorityHigh
		_, err := p.Queue.Enqueue(ctx, queue.EnqueueOptions{
			Name:     TaskAudio,
			Payload:  next,
			Priority: queue.PriorityHigh,
			Delay:    queue.After(p.Queue.Backoff(next.RetryCount)),
			Tag:      job.CampaignID,
		})
		if err != nil {
			return fmt.Errorf("%w (retry not scheduled: %v)", cause, err)
		}
		log.Warn().Err(cause).Msg("audio processing failed, retry scheduled")
		return queue.NoRetry(cause)
	}

	log.Error().Err(cause).Msg("audio processing failed permanently")
	ev := errorEvent(model.CodeAudioProcessing, fmt.Sprintf("Audio processing failed for session %s", job.SessionID), p.Now())
	if job.CampaignID != "" {
		p.Hub.EmitToCampaign(job.CampaignID, model.EventError, ev)
	} else {
		p.Hub.EmitGlobal(model.EventError, ev)
	}
	return queue.NoRetry(cause)
}

// ProcessBatch runs items one after another with InterItemDelay between them.
// A failing item does not stop the batch.
func (p *AudioPipeline) ProcessBatch(ctx context.Context, items []model.AudioJob) model.BatchResult {
	res := model.BatchResult{Total: len(items), Items: make([]model.BatchItemResult, 0, len(items))}
	for i, job := range items {
		if i > 0 {
			if err := sleepCtx(ctx, p.InterItemDelay); err != nil {
				break
			}
		}
		item := model.BatchItemResult{SessionID: job.SessionID}
		if _, err := p.Process(ctx, job); err != nil {
			res.Failed++
			item.Error = err.Error()
		} else {
			res.Succeeded++
			item.Success = true
		}
		res.Items = append(res.Items, item)
	}
	return res
}
