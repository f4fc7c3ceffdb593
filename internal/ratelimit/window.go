// internal/ratelimit/window.go
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window admits at most Max events in any trailing interval of length Span.
type Window struct {
	mu     sync.Mutex
	max    int
	span   time.Duration
	starts []time.Time
	now    func() time.Time
}

// NewWindow returns a sliding-window limiter. max <= 0 disables limiting.
func NewWindow(max int, span time.Duration) *Window {
	return &Window{max: max, span: span, now: time.Now}
}

// WithClock replaces the time source; tests only.
func (w *Window) WithClock(now func() time.Time) *Window {
	w.now = now
	return w
}

func (w *Window) prune(now time.Time) {
	cut := 0
	for cut < len(w.starts) && now.Sub(w.starts[cut]) >= w.span {
		cut++
	}
	if cut > 0 {
		w.starts = append(w.starts[:0], w.starts[cut:]...)
	}
}

// Allow records an event if the window has room.
func (w *Window) Allow() bool {
	_, ok, _ := w.reserve()
	return ok
}

func (w *Window) reserve() (time.Time, bool, time.Duration) {
	now := w.now()
	if w.max <= 0 || w.span <= 0 {
		return now, true, 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	if len(w.starts) < w.max {
		w.starts = append(w.starts, now)
		return now, true, 0
	}
	return now, false, w.starts[0].Add(w.span).Sub(now)
}

// Wait blocks until an event can be recorded or ctx ends. The returned time
// identifies the recorded event for Undo.
func (w *Window) Wait(ctx context.Context) (time.Time, error) {
	for {
		at, ok, wait := w.reserve()
		if ok {
			return at, nil
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		tmr := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return time.Time{}, ctx.Err()
		case <-tmr.C:
		}
	}
}

// Undo forgets the event recorded at at, for a reservation that started nothing.
func (w *Window) Undo(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.starts) - 1; i >= 0; i-- {
		if w.starts[i].Equal(at) {
			w.starts = append(w.starts[:i], w.starts[i+1:]...)
			return
		}
	}
}

// Count returns the number of events inside the current window.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.starts)
}

// Keyed holds one Window per key, e.g. per user id.
type Keyed struct {
	mu      sync.Mutex
	max     int
	span    time.Duration
	windows map[string]*Window
	now     func() time.Time
}

func NewKeyed(max int, span time.Duration) *Keyed {
	return &Keyed{max: max, span: span, windows: make(map[string]*Window), now: time.Now}
}

func (k *Keyed) WithClock(now func() time.Time) *Keyed {
	k.now = now
	return k
}

// Allow records an event for key if its window has room.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	w, ok := k.windows[key]
	if !ok {
		w = NewWindow(k.max, k.span).WithClock(k.now)
		k.windows[key] = w
	}
	k.mu.Unlock()
	return w.Allow()
}

// Sweep drops keys whose windows are empty.
func (k *Keyed) Sweep() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, w := range k.windows {
		if w.Count() == 0 {
			delete(k.windows, key)
		}
	}
}
