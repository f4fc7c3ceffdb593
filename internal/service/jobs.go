// internal/service/jobs.go
package service

import (
	"context"
	"fmt"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/queue"
)

// Task names used on the contact-calls and audio-processing queues. Campaign
// tasks are named by their action, analytics tasks by their type.
const (
	TaskContactCall     = "contact_call"
	TaskAudio           = "process_audio"
	TaskAudioBatch      = "process_audio_batch"
	TaskRecurringPrefix = "recurring_"
)

// Queue groups accepted by PauseQueues and ResumeQueues.
const (
	SubsystemCampaign  = "campaign"
	SubsystemAudio     = "audio"
	SubsystemAnalytics = "analytics"
)

// Jobs validates submissions and routes them to the named queues.
type Jobs struct {
	Campaign  TaskQueue
	Contacts  TaskQueue
	Audio     TaskQueue
	Analytics TaskQueue
	Recurring TaskQueue
}

func (j *Jobs) AddCampaignJob(ctx context.Context, job model.CampaignJob) (string, error) {
	if err := validateJob(job); err != nil {
		return "", err
	}
	return j.Campaign.Enqueue(ctx, queue.EnqueueOptions{
		Name:     string(job.Action),
		Payload:  job,
		Priority: queue.PriorityFrom(job.Priority),
		Tag:      job.CampaignID,
	})
}

func (j *Jobs) AddContactCallJob(ctx context.Context, job model.ContactCallJob) (string, error) {
	if err := validateJob(job); err != nil {
		return "", err
	}
	return j.Contacts.Enqueue(ctx, queue.EnqueueOptions{
		Name:     TaskContactCall,
		Payload:  job,
		Priority: queue.PriorityFrom(job.Priority),
		DedupKey: callDedupKey(job.CampaignID, job.ContactID, job.AttemptNumber),
		Tag:      job.CampaignID,
	})
}

func (j *Jobs) AddAnalyticsJob(ctx context.Context, job model.AnalyticsJob) (string, error) {
	if err := validateJob(job); err != nil {
		return "", err
	}
	return j.Analytics.Enqueue(ctx, queue.EnqueueOptions{
		Name:     string(job.Type),
		Payload:  job,
		Priority: queue.PriorityFrom(job.Priority),
	})
}

// AddRecurringAnalyticsJob submits one tick. A tick of the same type still
// waiting in the queue absorbs the new one.
func (j *Jobs) AddRecurringAnalyticsJob(ctx context.Context, job model.RecurringAnalyticsJob) (string, error) {
	if err := validateJob(job); err != nil {
		return "", err
	}
	return j.Recurring.Enqueue(ctx, queue.EnqueueOptions{
		Name:     TaskRecurringPrefix + string(job.Type),
		Payload:  job,
		Priority: queue.PriorityFrom(job.Priority),
		DedupKey: "recurring-" + string(job.Type),
	})
}

func (j *Jobs) AddAudioJob(ctx context.Context, job model.AudioJob) (string, error) {
	if job.MaxRetries == 0 {
		job.MaxRetries = model.DefaultAudioMaxRetries
	}
	if err := validateJob(job); err != nil {
		return "", err
	}
	return j.Audio.Enqueue(ctx, queue.EnqueueOptions{
		Name:     TaskAudio,
		Payload:  job,
		Priority: queue.PriorityFrom(job.Priority),
		DedupKey: audioDedupKey(job.SessionID),
		Tag:      job.CampaignID,
	})
}

// audioDedupKey keeps one pending analysis per session.
func audioDedupKey(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return "audio-" + sessionID
}

func (j *Jobs) AddBatchAudioJob(ctx context.Context, job model.BatchAudioJob) (string, error) {
	for i := range job.Items {
		if job.Items[i].MaxRetries == 0 {
			job.Items[i].MaxRetries = model.DefaultAudioMaxRetries
		}
	}
	if err := validateJob(job); err != nil {
		return "", err
	}
	return j.Audio.Enqueue(ctx, queue.EnqueueOptions{
		Name:     TaskAudioBatch,
		Payload:  job,
		Priority: queue.PriorityFrom(job.Priority),
	})
}

func (j *Jobs) all() []TaskQueue {
	return []TaskQueue{j.Campaign, j.Contacts, j.Audio, j.Analytics, j.Recurring}
}

// QueueStats reports counts for every queue, keyed by queue name.
func (j *Jobs) QueueStats(ctx context.Context) (map[string]queue.Stats, error) {
	out := make(map[string]queue.Stats, 5)
	for _, q := range j.all() {
		st, err := q.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("stats %s: %w", q.Name(), err)
		}
		out[q.Name()] = st
	}
	return out, nil
}

func (j *Jobs) subsystem(name string) ([]TaskQueue, error) {
	switch name {
	case SubsystemCampaign:
		return []TaskQueue{j.Campaign, j.Contacts}, nil
	case SubsystemAudio:
		return []TaskQueue{j.Audio}, nil
	case SubsystemAnalytics:
		return []TaskQueue{j.Analytics, j.Recurring}, nil
	}
	return nil, appErrors.NewValidation("subsystem", "unknown subsystem "+name)
}

// PauseQueues stops the subsystem's queues from claiming new tasks.
func (j *Jobs) PauseQueues(subsystem string) error {
	qs, err := j.subsystem(subsystem)
	if err != nil {
		return err
	}
	for _, q := range qs {
		q.Pause()
	}
	return nil
}

func (j *Jobs) ResumeQueues(subsystem string) error {
	qs, err := j.subsystem(subsystem)
	if err != nil {
		return err
	}
	for _, q := range qs {
		q.Resume()
	}
	return nil
}
