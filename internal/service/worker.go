// internal/service/worker.go
package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/voicereach-engine/internal/queue"
)

// Processor runs a handler against one queue until ctx ends. *queue.Queue implements it.
type Processor interface {
	Name() string
	Process(ctx context.Context, h queue.Handler) error
}

var _ Processor = (*queue.Queue)(nil)

type binding struct {
	q Processor
	h queue.Handler
}

// Worker owns the worker pools of every bound queue.
type Worker struct {
	bindings []binding
	Log      zerolog.Logger
}

func NewWorker(log zerolog.Logger) *Worker {
	return &Worker{Log: log.With().Str("comp", "worker").Logger()}
}

// Handle binds h to q. Call before Start.
func (w *Worker) Handle(q Processor, h queue.Handler) *Worker {
	w.bindings = append(w.bindings, binding{q: q, h: h})
	return w
}

// Start runs every bound queue and blocks until ctx is cancelled and all
// in-flight tasks have returned. One pool failing stops the others.
func (w *Worker) Start(ctx context.Context) error {
	if len(w.bindings) == 0 {
		return fmt.Errorf("worker: no queues bound")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range w.bindings {
		g.Go(func() error {
			if err := b.q.Process(gctx, b.h); err != nil {
				return fmt.Errorf("queue %s: %w", b.q.Name(), err)
			}
			return nil
		})
	}
	w.Log.Info().Int("queues", len(w.bindings)).Msg("worker running, waiting for tasks")
	err := g.Wait()
	w.Log.Info().Msg("worker stopped")
	return err
}
