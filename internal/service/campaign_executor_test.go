package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/queue"
	"github.com/unclebandit/voicereach-engine/internal/service"
)

func newExecutor(status model.CampaignStatus) (*service.CampaignExecutor, *MockCampaignRepo, *fakeQueue, *fakeQueue, *fakeHub) {
	repo := NewMockCampaignRepo(&model.Campaign{ID: "c1", Name: "Spring recovery", Status: status})
	campaignQ := newFakeQueue("campaign-execution")
	contactQ := newFakeQueue("contact-calls")
	hub := &fakeHub{}
	e := service.NewCampaignExecutor(repo, &MockSessionRepo{}, campaignQ, contactQ, hub, nopLog)
	e.BatchInterval = 0
	return e, repo, campaignQ, contactQ, hub
}

func addContacts(repo *MockCampaignRepo, campaignID string, n int) {
	cs := make([]model.CampaignContact, n)
	for i := range cs {
		cs[i] = model.CampaignContact{PhoneNumber: fmt.Sprintf("+2547000%05d", i), Status: model.ContactPending}
	}
	repo.AddContacts(context.Background(), campaignID, cs)
}

func TestBatch(t *testing.T) {
	ids := make([]int, 120)
	batches := service.Batch(ids, 50)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	for i, want := range []int{50, 50, 20} {
		if len(batches[i]) != want {
			t.Errorf("batch %d: expected %d items, got %d", i, want, len(batches[i]))
		}
	}
	if got := service.Batch([]int{}, 50); len(got) != 0 {
		t.Errorf("expected no batches for empty input, got %d", len(got))
	}
}

func TestExecutorTransitions(t *testing.T) {
	actions := []model.CampaignAction{model.ActionSchedule, model.ActionStart, model.ActionPause, model.ActionResume, model.ActionStop}
	// expected status after each action, "" when the action must be rejected
	table := map[model.CampaignStatus][]model.CampaignStatus{
		model.CampaignDraft:     {model.CampaignScheduled, "", "", "", model.CampaignCancelled},
		model.CampaignScheduled: {"", model.CampaignRunning, "", "", model.CampaignCancelled},
		model.CampaignRunning:   {"", model.CampaignRunning, model.CampaignPaused, "", model.CampaignCancelled},
		model.CampaignPaused:    {"", "", "", model.CampaignRunning, model.CampaignCancelled},
		model.CampaignCompleted: {"", "", "", "", ""},
		model.CampaignCancelled: {"", "", "", "", ""},
	}

	for from, wants := range table {
		for i, action := range actions {
			t.Run(fmt.Sprintf("%s_%s", from, action), func(t *testing.T) {
				e, repo, _, _, _ := newExecutor(from)
				err := e.Execute(context.Background(), "t1", model.CampaignJob{CampaignID: "c1", Action: action})

				want := wants[i]
				if want == "" {
					var ite *appErrors.InvalidTransitionError
					if !errors.As(err, &ite) {
						t.Fatalf("expected invalid transition, got %v", err)
					}
					if appErrors.IsRetryable(err) {
						t.Errorf("invalid transition must not be retryable")
					}
					if repo.Status("c1") != from {
						t.Errorf("status changed to %s on rejected action", repo.Status("c1"))
					}
					return
				}
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got := repo.Status("c1"); got != want {
					t.Errorf("expected %s, got %s", want, got)
				}
			})
		}
	}
}

func TestExecuteMissingCampaign(t *testing.T) {
	e, _, _, _, _ := newExecutor(model.CampaignDraft)
	err := e.Execute(context.Background(), "t1", model.CampaignJob{CampaignID: "nope", Action: model.ActionSchedule})
	if !appErrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStartEnqueuesBatchesAndStatusCheck(t *testing.T) {
	e, repo, campaignQ, _, hub := newExecutor(model.CampaignScheduled)
	addContacts(repo, "c1", 120)

	if err := e.Execute(context.Background(), "t1", model.CampaignJob{CampaignID: "c1", Action: model.ActionStart}); err != nil {
		t.Fatalf("start: %v", err)
	}

	var sizes []int
	var check *queue.EnqueueOptions
	for _, o := range campaignQ.Enqueued() {
		job := o.Payload.(model.CampaignJob)
		switch job.Action {
		case model.ActionProcessContacts:
			sizes = append(sizes, len(job.ContactIDs))
			if o.Tag != "c1" {
				t.Errorf("batch task not tagged with campaign id: %q", o.Tag)
			}
		case model.ActionCheckStatus:
			check = &o
		}
	}
	if fmt.Sprint(sizes) != "[50 50 20]" {
		t.Errorf("expected batches [50 50 20], got %v", sizes)
	}
	if check == nil {
		t.Fatalf("status check not scheduled")
	}
	if check.Repeat != service.DefaultStatusInterval {
		t.Errorf("expected repeat %v, got %v", service.DefaultStatusInterval, check.Repeat)
	}
	if check.DedupKey != "status-check-c1" {
		t.Errorf("unexpected dedup key %q", check.DedupKey)
	}

	evs := hub.Events(model.EventCampaignStatus)
	if len(evs) != 1 {
		t.Fatalf("expected one status event, got %d", len(evs))
	}
	ev := evs[0].Data.(model.CampaignStatusEvent)
	if ev.Status != model.CampaignRunning || ev.TotalContacts == nil || *ev.TotalContacts != 120 || *ev.Progress != 0 {
		t.Errorf("unexpected start event %+v", ev)
	}
}

func TestProcessContactsQueuesEligibleContacts(t *testing.T) {
	e, repo, _, contactQ, _ := newExecutor(model.CampaignRunning)
	old := time.Now().AddDate(0, 0, -200)
	repo.AddContacts(context.Background(), "c1", []model.CampaignContact{
		{PhoneNumber: "+254700000001", Status: model.ContactPending, DebtAmount: 500},
		{PhoneNumber: "+254700000002", Status: model.ContactSucceeded},
		{PhoneNumber: "+254700000003", Status: model.ContactPending, Attempts: 3},
		{PhoneNumber: "+254700000004", Status: model.ContactPending, Attempts: 1, LastPaymentDate: &old},
	})

	job := model.CampaignJob{CampaignID: "c1", Action: model.ActionProcessContacts, ContactIDs: []string{"c1-k1", "c1-k2", "c1-k3", "c1-k4", "c1-k9"}}
	if err := e.Execute(context.Background(), "t1", job); err != nil {
		t.Fatalf("process contacts: %v", err)
	}

	got := contactQ.Enqueued()
	if len(got) != 2 {
		t.Fatalf("expected 2 call tasks, got %d", len(got))
	}
	first := got[0].Payload.(model.ContactCallJob)
	if first.ContactID != "c1-k1" || first.AttemptNumber != 1 || first.MaxAttempts != model.DefaultMaxAttempts {
		t.Errorf("unexpected first job %+v", first)
	}
	if got[0].Priority != queue.PriorityNormal || got[0].DedupKey != "call-c1-c1-k1-1" || got[0].Tag != "c1" {
		t.Errorf("unexpected first options %+v", got[0])
	}
	second := got[1].Payload.(model.ContactCallJob)
	if second.AttemptNumber != 2 || second.Priority != model.PriorityHigh || got[1].Priority != queue.PriorityHigh {
		t.Errorf("stale payer should be dialed at high priority on attempt 2, got %+v", second)
	}
}

func TestProcessContactsDeferredWhilePaused(t *testing.T) {
	e, repo, campaignQ, contactQ, _ := newExecutor(model.CampaignPaused)
	addContacts(repo, "c1", 2)

	job := model.CampaignJob{CampaignID: "c1", Action: model.ActionProcessContacts, ContactIDs: []string{"c1-k1", "c1-k2"}}
	if err := e.Execute(context.Background(), "t1", job); err != nil {
		t.Fatalf("process contacts: %v", err)
	}
	if n := len(contactQ.Enqueued()); n != 0 {
		t.Errorf("paused campaign dialed %d contacts", n)
	}
	got := campaignQ.Enqueued()
	if len(got) != 1 || got[0].Delay == nil || *got[0].Delay != service.DefaultPauseRecheck {
		t.Fatalf("expected batch deferred by %v, got %+v", service.DefaultPauseRecheck, got)
	}
}

func TestProcessContactsSkippedWhenCancelled(t *testing.T) {
	e, repo, campaignQ, contactQ, _ := newExecutor(model.CampaignCancelled)
	addContacts(repo, "c1", 2)

	job := model.CampaignJob{CampaignID: "c1", Action: model.ActionProcessContacts, ContactIDs: []string{"c1-k1"}}
	if err := e.Execute(context.Background(), "t1", job); err != nil {
		t.Fatalf("process contacts: %v", err)
	}
	if len(contactQ.Enqueued())+len(campaignQ.Enqueued()) != 0 {
		t.Errorf("cancelled campaign must not enqueue anything")
	}
}

func TestCheckStatusCompletesCampaign(t *testing.T) {
	e, repo, _, _, hub := newExecutor(model.CampaignRunning)
	addContacts(repo, "c1", 2)
	ctx := context.Background()

	if err := e.Execute(ctx, "t1", model.CampaignJob{CampaignID: "c1", Action: model.ActionCheckStatus}); err != nil {
		t.Fatalf("check with pending contacts: %v", err)
	}
	if repo.Status("c1") != model.CampaignRunning {
		t.Fatalf("campaign completed with pending contacts")
	}

	repo.UpdateContactStatus(ctx, "c1", "c1-k1", model.ContactSucceeded, 1)
	repo.UpdateContactStatus(ctx, "c1", "c1-k2", model.ContactFailed, 3)

	err := e.Execute(ctx, "t1", model.CampaignJob{CampaignID: "c1", Action: model.ActionCheckStatus})
	if !errors.Is(err, queue.ErrStopRepeat) {
		t.Fatalf("expected repeat chain to end, got %v", err)
	}
	if repo.Status("c1") != model.CampaignCompleted {
		t.Errorf("expected completed, got %s", repo.Status("c1"))
	}

	evs := hub.Events(model.EventCampaignStatus)
	last := evs[len(evs)-1].Data.(model.CampaignStatusEvent)
	if last.Status != model.CampaignCompleted || *last.Progress != 100 {
		t.Errorf("unexpected completion event %+v", last)
	}

	// terminal campaigns stop the chain without touching status
	if err := e.Execute(ctx, "t1", model.CampaignJob{CampaignID: "c1", Action: model.ActionCheckStatus}); !errors.Is(err, queue.ErrStopRepeat) {
		t.Errorf("expected stop repeat on terminal campaign, got %v", err)
	}
}

func TestHandleDoesNotReportStopRepeat(t *testing.T) {
	e, _, _, _, hub := newExecutor(model.CampaignCompleted)
	task := &queue.Task{ID: "t1", Name: "check_status", Payload: []byte(`{"campaignId":"c1","action":"check_status"}`)}

	if err := e.Handle(context.Background(), task); !errors.Is(err, queue.ErrStopRepeat) {
		t.Fatalf("expected stop repeat, got %v", err)
	}
	if n := len(hub.Events(model.EventError)); n != 0 {
		t.Errorf("stop repeat must not emit an error event, got %d", n)
	}
}

func TestHandleRejectsInvalidPayload(t *testing.T) {
	e, _, _, _, _ := newExecutor(model.CampaignDraft)
	task := &queue.Task{ID: "t1", Name: "process_contacts", Payload: []byte(`{"campaignId":"c1","action":"process_contacts"}`)}

	err := e.Handle(context.Background(), task)
	var ve *appErrors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStopRemovesCampaignTasks(t *testing.T) {
	e, _, campaignQ, contactQ, hub := newExecutor(model.CampaignRunning)
	ctx := context.Background()

	stopID, _ := campaignQ.Enqueue(ctx, queue.EnqueueOptions{Name: "stop", Tag: "c1"})
	campaignQ.Enqueue(ctx, queue.EnqueueOptions{Name: "process_contacts", Tag: "c1"})
	campaignQ.Enqueue(ctx, queue.EnqueueOptions{Name: "check_status", Tag: "c1", DedupKey: "status-check-c1"})
	campaignQ.Enqueue(ctx, queue.EnqueueOptions{Name: "process_contacts", Tag: "c2"})
	contactQ.Enqueue(ctx, queue.EnqueueOptions{Name: service.TaskContactCall, Tag: "c1"})
	contactQ.Enqueue(ctx, queue.EnqueueOptions{Name: service.TaskContactCall, Tag: "c2"})

	if err := e.Execute(ctx, stopID, model.CampaignJob{CampaignID: "c1", Action: model.ActionStop}); err != nil {
		t.Fatalf("stop: %v", err)
	}

	live := map[string]int{}
	for _, tk := range append(campaignQ.Live(), contactQ.Live()...) {
		live[tk.Tag]++
	}
	if live["c1"] != 1 {
		t.Errorf("expected only the running stop task left for c1, got %d", live["c1"])
	}
	if live["c2"] != 2 {
		t.Errorf("other campaign's tasks removed: %d left", live["c2"])
	}

	evs := hub.Events(model.EventCampaignStatus)
	if len(evs) != 1 || evs[0].Data.(model.CampaignStatusEvent).Status != model.CampaignCancelled {
		t.Errorf("expected cancelled status event, got %+v", evs)
	}
}

// flakyQueue fails the enqueue calls listed in failOn (1-based), once each.
type flakyQueue struct {
	*fakeQueue
	calls  int
	failOn map[int]bool
}

func (q *flakyQueue) Enqueue(ctx context.Context, opts queue.EnqueueOptions) (string, error) {
	q.calls++
	if q.failOn[q.calls] {
		delete(q.failOn, q.calls)
		return "", errors.New("badger: write conflict")
	}
	return q.fakeQueue.Enqueue(ctx, opts)
}

func TestStartResumesAfterInterruption(t *testing.T) {
	e, repo, campaignQ, _, _ := newExecutor(model.CampaignScheduled)
	addContacts(repo, "c1", 120)
	// status check, batch 1, then batch 2 fails
	flaky := &flakyQueue{fakeQueue: campaignQ, failOn: map[int]bool{3: true}}
	e.Campaign = flaky
	job := model.CampaignJob{CampaignID: "c1", Action: model.ActionStart}

	if err := e.Execute(context.Background(), "t1", job); err == nil {
		t.Fatalf("expected the interrupted start to fail")
	}
	if repo.Status("c1") != model.CampaignRunning {
		t.Fatalf("expected running after partial start, got %s", repo.Status("c1"))
	}

	if err := e.Execute(context.Background(), "t1", job); err != nil {
		t.Fatalf("retried start: %v", err)
	}

	batches := map[string]int{}
	checks := 0
	for _, tk := range campaignQ.Live() {
		switch tk.Name {
		case string(model.ActionProcessContacts):
			batches[tk.DedupKey]++
		case string(model.ActionCheckStatus):
			checks++
		}
	}
	if len(batches) != 3 {
		t.Errorf("expected 3 distinct batches, got %v", batches)
	}
	for key, n := range batches {
		if n != 1 {
			t.Errorf("batch %s queued %d times", key, n)
		}
	}
	if checks != 1 {
		t.Errorf("expected one status check, got %d", checks)
	}
}

func TestStartStaggersBatches(t *testing.T) {
	e, repo, campaignQ, _, _ := newExecutor(model.CampaignScheduled)
	e.BatchInterval = 200 * time.Millisecond
	addContacts(repo, "c1", 120)

	if err := e.Execute(context.Background(), "t1", model.CampaignJob{CampaignID: "c1", Action: model.ActionStart}); err != nil {
		t.Fatalf("start: %v", err)
	}
	var delays []time.Duration
	for _, o := range campaignQ.Enqueued() {
		if o.Name == string(model.ActionProcessContacts) {
			delays = append(delays, *o.Delay)
		}
	}
	if fmt.Sprint(delays) != "[0s 200ms 400ms]" {
		t.Errorf("unexpected batch delays %v", delays)
	}
}

func TestProcessContactsSkipsCoveredContacts(t *testing.T) {
	e, repo, _, contactQ, _ := newExecutor(model.CampaignRunning)
	sessions := &MockSessionRepo{}
	e.Sessions = sessions
	addContacts(repo, "c1", 4)
	ctx := context.Background()
	// k1 succeeded but its contact row still reads pending
	sessions.Create(ctx, &model.Session{CampaignID: "c1", ContactID: "c1-k1", AttemptNumber: 1, Status: model.SessionCompleted, Result: model.ResultSuccessful})
	repo.UpdateContactStatus(ctx, "c1", "c1-k1", model.ContactPending, 1)
	// k2 is still on the phone
	sessions.Create(ctx, &model.Session{CampaignID: "c1", ContactID: "c1-k2", AttemptNumber: 1, Status: model.SessionAnswered})
	repo.UpdateContactStatus(ctx, "c1", "c1-k2", model.ContactPending, 1)
	// k3 ended unsuccessfully on attempt 1 and is due for attempt 2
	sessions.Create(ctx, &model.Session{CampaignID: "c1", ContactID: "c1-k3", AttemptNumber: 1, Status: model.SessionCompleted, Result: model.ResultNoAnswer})
	repo.UpdateContactStatus(ctx, "c1", "c1-k3", model.ContactPending, 1)

	job := model.CampaignJob{CampaignID: "c1", Action: model.ActionProcessContacts, ContactIDs: []string{"c1-k1", "c1-k2", "c1-k3", "c1-k4"}}
	if err := e.Execute(ctx, "t1", job); err != nil {
		t.Fatalf("process contacts: %v", err)
	}

	var got []string
	for _, o := range contactQ.Enqueued() {
		j := o.Payload.(model.ContactCallJob)
		got = append(got, fmt.Sprintf("%s#%d", j.ContactID, j.AttemptNumber))
	}
	if fmt.Sprint(got) != "[c1-k3#2 c1-k4#1]" {
		t.Errorf("unexpected call tasks %v", got)
	}
}
