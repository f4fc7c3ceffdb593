package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/unclebandit/voicereach-engine/internal/config"
	"github.com/unclebandit/voicereach-engine/internal/controller"
	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/queue"
)

type MockJobsAPI struct {
	analytics []model.AnalyticsJob
	audio     []model.AudioJob
	batches   []model.BatchAudioJob
	paused    map[string]bool
}

func (m *MockJobsAPI) AddAnalyticsJob(ctx context.Context, job model.AnalyticsJob) (string, error) {
	if job.Type == "" {
		return "", appErrors.NewValidation("Type", "failed required")
	}
	m.analytics = append(m.analytics, job)
	return string(job.Type) + "-1", nil
}

func (m *MockJobsAPI) AddAudioJob(ctx context.Context, job model.AudioJob) (string, error) {
	m.audio = append(m.audio, job)
	return "process_audio-1", nil
}

func (m *MockJobsAPI) AddBatchAudioJob(ctx context.Context, job model.BatchAudioJob) (string, error) {
	m.batches = append(m.batches, job)
	return "process_audio_batch-1", nil
}

func (m *MockJobsAPI) QueueStats(ctx context.Context) (map[string]queue.Stats, error) {
	return map[string]queue.Stats{
		config.QueueCampaign: {Name: config.QueueCampaign, Waiting: 3, Paused: m.paused["campaign"]},
	}, nil
}

func (m *MockJobsAPI) PauseQueues(subsystem string) error {
	if subsystem != "campaign" {
		return appErrors.NewValidation("subsystem", "unknown subsystem "+subsystem)
	}
	m.paused[subsystem] = true
	return nil
}

func (m *MockJobsAPI) ResumeQueues(subsystem string) error {
	if subsystem != "campaign" {
		return appErrors.NewValidation("subsystem", "unknown subsystem "+subsystem)
	}
	m.paused[subsystem] = false
	return nil
}

func TestSubmitAnalytics(t *testing.T) {
	jobs := &MockJobsAPI{paused: map[string]bool{}}
	ctrl := &controller.JobsController{Jobs: jobs}

	w := httptest.NewRecorder()
	ctrl.SubmitAnalytics(w, httptest.NewRequest("POST", "/jobs/analytics", strings.NewReader(`{"type":"dashboard","forceRecalc":true}`)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var res map[string]string
	json.NewDecoder(w.Body).Decode(&res)
	if res["jobId"] != "dashboard-1" {
		t.Errorf("unexpected response %v", res)
	}
	if len(jobs.analytics) != 1 || !jobs.analytics[0].ForceRecalc {
		t.Errorf("expected forced dashboard job, got %+v", jobs.analytics)
	}

	w = httptest.NewRecorder()
	ctrl.SubmitAnalytics(w, httptest.NewRequest("POST", "/jobs/analytics", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a job without type, got %d", w.Code)
	}
}

func TestSubmitAudio(t *testing.T) {
	jobs := &MockJobsAPI{paused: map[string]bool{}}
	ctrl := &controller.JobsController{Jobs: jobs}

	w := httptest.NewRecorder()
	ctrl.SubmitAudio(w, httptest.NewRequest("POST", "/jobs/audio", strings.NewReader(`{"sessionId":"s-1","audioFileId":"rec-1"}`)))
	if w.Code != http.StatusAccepted || len(jobs.audio) != 1 {
		t.Fatalf("expected accepted audio job, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	ctrl.SubmitAudioBatch(w, httptest.NewRequest("POST", "/jobs/audio/batch", strings.NewReader(`{"items":[{"sessionId":"s-1","audioFileId":"a"},{"sessionId":"s-2","audioFileId":"b"}]}`)))
	if w.Code != http.StatusAccepted || len(jobs.batches) != 1 || len(jobs.batches[0].Items) != 2 {
		t.Fatalf("expected accepted batch of 2, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	ctrl.SubmitAudio(w, httptest.NewRequest("POST", "/jobs/audio", strings.NewReader(`not json`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", w.Code)
	}
}

func TestPauseResumeQueues(t *testing.T) {
	jobs := &MockJobsAPI{paused: map[string]bool{}}
	ctrl := &controller.JobsController{Jobs: jobs}

	w := withParams("POST", "/queues/{subsystem}/pause", "/queues/campaign/pause", nil, ctrl.PauseQueues)
	if w.Code != http.StatusOK || !jobs.paused["campaign"] {
		t.Fatalf("expected campaign paused, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	ctrl.QueueStats(w, httptest.NewRequest("GET", "/queues/stats", nil))
	var stats map[string]queue.Stats
	json.NewDecoder(w.Body).Decode(&stats)
	if !stats[config.QueueCampaign].Paused || stats[config.QueueCampaign].Waiting != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}

	w = withParams("POST", "/queues/{subsystem}/resume", "/queues/campaign/resume", nil, ctrl.ResumeQueues)
	if w.Code != http.StatusOK || jobs.paused["campaign"] {
		t.Fatalf("expected campaign resumed, got %d", w.Code)
	}

	w = withParams("POST", "/queues/{subsystem}/pause", "/queues/billing/pause", nil, ctrl.PauseQueues)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown subsystem, got %d", w.Code)
	}
}
