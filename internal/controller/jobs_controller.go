// internal/controller/jobs_controller.go
package controller

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/queue"
	"github.com/unclebandit/voicereach-engine/internal/service"
)

// JobsAPI is the job facade as seen by HTTP clients.
type JobsAPI interface {
	AddAnalyticsJob(ctx context.Context, job model.AnalyticsJob) (string, error)
	AddAudioJob(ctx context.Context, job model.AudioJob) (string, error)
	AddBatchAudioJob(ctx context.Context, job model.BatchAudioJob) (string, error)
	QueueStats(ctx context.Context) (map[string]queue.Stats, error)
	PauseQueues(subsystem string) error
	ResumeQueues(subsystem string) error
}

var _ JobsAPI = (*service.Jobs)(nil)

type JobsController struct {
	Jobs JobsAPI
}

func accepted(w http.ResponseWriter, id string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func (c *JobsController) SubmitAnalytics(w http.ResponseWriter, r *http.Request) {
	var job model.AnalyticsJob
	if err := decode(r, &job); err != nil {
		writeError(w, err)
		return
	}
	id, err := c.Jobs.AddAnalyticsJob(r.Context(), job)
	accepted(w, id, err)
}

func (c *JobsController) SubmitAudio(w http.ResponseWriter, r *http.Request) {
	var job model.AudioJob
	if err := decode(r, &job); err != nil {
		writeError(w, err)
		return
	}
	id, err := c.Jobs.AddAudioJob(r.Context(), job)
	accepted(w, id, err)
}

func (c *JobsController) SubmitAudioBatch(w http.ResponseWriter, r *http.Request) {
	var job model.BatchAudioJob
	if err := decode(r, &job); err != nil {
		writeError(w, err)
		return
	}
	id, err := c.Jobs.AddBatchAudioJob(r.Context(), job)
	accepted(w, id, err)
}

func (c *JobsController) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.Jobs.QueueStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (c *JobsController) PauseQueues(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "subsystem")
	if err := c.Jobs.PauseQueues(sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subsystem": sub, "paused": true})
}

func (c *JobsController) ResumeQueues(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "subsystem")
	if err := c.Jobs.ResumeQueues(sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subsystem": sub, "paused": false})
}
