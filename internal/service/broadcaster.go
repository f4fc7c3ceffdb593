// internal/service/broadcaster.go
package service

import (
	"context"
	"time"

	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/queue"
)

// Broadcaster pushes events to live subscribers. realtime.Hub implements it.
type Broadcaster interface {
	EmitToCampaign(campaignID, event string, data any)
	EmitToUser(userID, event string, data any)
	EmitToRole(role model.Role, event string, data any)
	EmitGlobal(event string, data any)
}

// NopBroadcaster drops every event. Used by processes without subscribers.
type NopBroadcaster struct{}

func (NopBroadcaster) EmitToCampaign(string, string, any) {}
func (NopBroadcaster) EmitToUser(string, string, any) {}
func (NopBroadcaster) EmitToRole(model.Role, string, any) {}
func (NopBroadcaster) EmitGlobal(string, any) {}

// TaskQueue is the part of *queue.Queue the services enqueue into.
type TaskQueue interface {
	Name() string
	Enqueue(ctx context.Context, opts queue.EnqueueOptions) (string, error)
	RemoveMatching(ctx context.Context, match func(*queue.Task) bool) (int, error)
	Backoff(attempt int) time.Duration
	Pause()
	Resume()
	Paused() bool
	Stats(ctx context.Context) (queue.Stats, error)
}

var _ TaskQueue = (*queue.Queue)(nil)

func errorEvent(code, msg string, now time.Time) model.ErrorEvent {
	return model.ErrorEvent{Message: msg, Code: code, Timestamp: now.UTC()}
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
