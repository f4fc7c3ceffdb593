package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unclebandit/voicereach-engine/internal/queue"
	"github.com/unclebandit/voicereach-engine/internal/service"
)

// MockProcessor runs the handler once on a canned task, then waits for ctx.
type MockProcessor struct {
	name string
	task *queue.Task
	err  error

	mu   sync.Mutex
	seen []error
}

func (m *MockProcessor) Name() string { return m.name }

func (m *MockProcessor) Process(ctx context.Context, h queue.Handler) error {
	if m.err != nil {
		return m.err
	}
	err := h(ctx, m.task)
	m.mu.Lock()
	m.seen = append(m.seen, err)
	m.mu.Unlock()
	<-ctx.Done()
	return nil
}

func TestWorkerRunsEveryQueue(t *testing.T) {
	a := &MockProcessor{name: "campaign-execution", task: &queue.Task{ID: "1"}}
	b := &MockProcessor{name: "audio-processing", task: &queue.Task{ID: "2"}}

	var mu sync.Mutex
	handled := map[string]bool{}
	h := func(ctx context.Context, t *queue.Task) error {
		mu.Lock()
		handled[t.ID] = true
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	w := service.NewWorker(nopLog).Handle(a, h).Handle(b, h)
	go func() { done <- w.Start(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(handled)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected both queues to run, handled %v", handled)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWorkerStopsWhenAQueueFails(t *testing.T) {
	boom := errors.New("store closed")
	a := &MockProcessor{name: "contact-calls", err: boom}
	b := &MockProcessor{name: "analytics-calculation", task: &queue.Task{ID: "1"}}
	h := func(ctx context.Context, t *queue.Task) error { return nil }

	err := service.NewWorker(nopLog).Handle(a, h).Handle(b, h).Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestWorkerWithoutQueues(t *testing.T) {
	if err := service.NewWorker(nopLog).Start(context.Background()); err == nil {
		t.Fatal("expected error for a worker with no queues")
	}
}
