// internal/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/ratelimit"
)

// RateLimit caps task starts: at most Max within any Window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// Config tunes one named queue.
type Config struct {
	Concurrency  int
	RateLimit    RateLimit
	Attempts     int
	Backoff      time.Duration
	MaxBackoff   time.Duration
	NormalDelay  time.Duration
	Visibility   time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Attempts <= 0 {
		c.Attempts = 1
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.Visibility <= 0 {
		c.Visibility = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	return c
}

// Handler executes one claimed task.
type Handler func(ctx context.Context, t *Task) error

// Queue is a durable, priority-ordered work queue with retry and a start-rate limiter.
type Queue struct {
	name    string
	cfg     Config
	store   *Store
	limiter *ratelimit.Window
	log     zerolog.Logger
	now     func() time.Time

	paused    atomic.Bool
	completed atomic.Int64
	failed    atomic.Int64
	wake      chan struct{}

	hmu         sync.RWMutex
	onCompleted []func(*Task)
	onFailed    []func(*Task, error)
	onStalled   []func(*Task)
}

// New opens the named queue on db.
func New(db *badger.DB, name string, cfg Config, log zerolog.Logger) (*Queue, error) {
	st, err := NewStore(db, name)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Queue{
		name:    name,
		cfg:     cfg,
		store:   st,
		limiter: ratelimit.NewWindow(cfg.RateLimit.Max, cfg.RateLimit.Window),
		log:     log.With().Str("comp", "queue").Str("queue", name).Logger(),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}, nil
}

func (q *Queue) Name() string   { return q.name }
func (q *Queue) Config() Config { return q.cfg }

func (q *Queue) Close() error { return q.store.Close() }

func (q *Queue) OnCompleted(fn func(*Task)) {
	q.hmu.Lock()
	q.onCompleted = append(q.onCompleted, fn)
	q.hmu.Unlock()
}

func (q *Queue) OnFailed(fn func(*Task, error)) {
	q.hmu.Lock()
	q.onFailed = append(q.onFailed, fn)
	q.hmu.Unlock()
}

func (q *Queue) OnStalled(fn func(*Task)) {
	q.hmu.Lock()
	q.onStalled = append(q.onStalled, fn)
	q.hmu.Unlock()
}

// Backoff returns the retry delay after the given 1-based attempt:
// Backoff * 2^(attempt-1), capped at MaxBackoff when set.
func (q *Queue) Backoff(attempt int) time.Duration {
	d := q.cfg.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if q.cfg.MaxBackoff > 0 && d >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	if q.cfg.MaxBackoff > 0 && d > q.cfg.MaxBackoff {
		return q.cfg.MaxBackoff
	}
	return d
}

// Enqueue stores a task and returns its id. A live task sharing DedupKey wins
// and its id is returned instead.
func (q *Queue) Enqueue(ctx context.Context, opts EnqueueOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if opts.Name == "" {
		return "", appErrors.NewValidation("name", "task name is required")
	}
	if opts.Priority == 0 {
		opts.Priority = PriorityNormal
	}
	if !opts.Priority.Valid() {
		return "", appErrors.NewValidation("priority", fmt.Sprintf("unknown priority %d", opts.Priority))
	}
	payload, err := json.Marshal(opts.Payload)
	if err != nil {
		return "", appErrors.NewValidation("payload", err.Error())
	}

	delay := time.Duration(0)
	switch {
	case opts.Delay != nil:
		delay = *opts.Delay
	case opts.Priority != PriorityHigh:
		delay = q.cfg.NormalDelay
	}
	if delay < 0 {
		delay = 0
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = q.cfg.Attempts
	}

	now := q.now()
	t := &Task{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Name:        opts.Name,
		Payload:     payload,
		Priority:    opts.Priority,
		MaxAttempts: attempts,
		RunAt:       now.Add(delay),
		EnqueuedAt:  now,
		DedupKey:    opts.DedupKey,
		Tag:         opts.Tag,
		Repeat:      opts.Repeat,
	}
	id, err := q.store.Put(t)
	if err != nil {
		return "", fmt.Errorf("enqueue %s/%s: %w", q.name, opts.Name, err)
	}
	if id == t.ID {
		q.log.Debug().Str("task", opts.Name).Str("id", id).Str("priority", opts.Priority.String()).Dur("delay", delay).Msg("task.enqueued")
	}
	q.signal()
	return id, nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pause stops workers from claiming new tasks; running tasks finish.
func (q *Queue) Pause() {
	if !q.paused.Swap(true) {
		q.log.Info().Msg("queue paused")
	}
}

func (q *Queue) Resume() {
	if q.paused.Swap(false) {
		q.log.Info().Msg("queue resumed")
		q.signal()
	}
}

func (q *Queue) Paused() bool { return q.paused.Load() }

// RemoveMatching deletes every stored task for which match returns true and
// reports how many were removed. Tasks enqueued concurrently may be missed.
func (q *Queue) RemoveMatching(ctx context.Context, match func(*Task) bool) (int, error) {
	var ids []string
	if err := q.store.Scan(func(t *Task) bool {
		if match(t) {
			ids = append(ids, t.ID)
		}
		return ctx.Err() == nil
	}); err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := q.store.Delete(id); err != nil {
			return removed, fmt.Errorf("remove %s: %w", id, err)
		}
		removed++
	}
	if removed > 0 {
		q.log.Info().Int("removed", removed).Msg("tasks removed")
	}
	return removed, ctx.Err()
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Name:      q.name,
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Paused:    q.Paused(),
	}
	now := q.now()
	err := q.store.Scan(func(t *Task) bool {
		switch t.State(now) {
		case StateActive:
			st.Active++
		case StateDelayed:
			st.Delayed++
		default:
			st.Waiting++
		}
		return ctx.Err() == nil
	})
	return st, err
}

// Get returns a stored task by id.
func (q *Queue) Get(id string) (*Task, error) { return q.store.Get(id) }

// Process runs Concurrency workers against h until ctx is cancelled, then
// waits for in-flight tasks to return.
func (q *Queue) Process(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("queue: nil handler")
	}
	q.log.Info().Int("concurrency", q.cfg.Concurrency).Int("rate_max", q.cfg.RateLimit.Max).Dur("rate_window", q.cfg.RateLimit.Window).Msg("workers started")

	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx, h)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.reaper(ctx)
	}()
	wg.Wait()
	q.log.Info().Msg("workers stopped")
	return nil
}

func (q *Queue) sleep(ctx context.Context) bool {
	tmr := time.NewTimer(q.cfg.PollInterval)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-q.wake:
		return true
	case <-tmr.C:
		return true
	}
}

func (q *Queue) worker(ctx context.Context, h Handler) {
	for ctx.Err() == nil {
		if q.Paused() {
			if !q.sleep(ctx) {
				return
			}
			continue
		}
		slot, err := q.limiter.Wait(ctx)
		if err != nil {
			return
		}
		t, err := q.store.Claim(q.now(), q.cfg.Visibility)
		if err != nil {
			q.limiter.Undo(slot)
			if !errors.Is(err, ErrNoTask) {
				q.log.Error().Err(err).Msg("claim failed")
			}
			if !q.sleep(ctx) {
				return
			}
			continue
		}
		q.execute(ctx, h, t)
	}
}

func (q *Queue) execute(ctx context.Context, h Handler, t *Task) {
	start := q.now()
	log := q.log.With().Str("task", t.Name).Str("id", t.ID).Int("attempt", t.Attempt).Logger()
	log.Debug().Dur("queue_delay", start.Sub(t.RunAt)).Msg("task.started")

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		q.heartbeat(hbCtx, t, log)
	}()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("task.panic")
			}
		}()
		err = h(ctx, t)
	}()
	stopHeartbeat()
	<-hbDone
	dur := q.now().Sub(start)

	switch {
	case err == nil:
		q.finish(t)
		q.completed.Add(1)
		log.Debug().Dur("dur", dur).Msg("task.completed")
		q.fireCompleted(t)

	case errors.Is(err, ErrStopRepeat):
		if derr := q.store.Delete(t.ID); derr != nil {
			log.Error().Err(derr).Msg("delete task")
		}
		q.completed.Add(1)
		log.Debug().Dur("dur", dur).Msg("task.completed (repeat stopped)")
		q.fireCompleted(t)

	case ctx.Err() != nil:
		if rerr := q.store.Release(t, q.now()); rerr != nil {
			log.Error().Err(rerr).Msg("release task")
		}
		log.Warn().Err(err).Msg("task interrupted by shutdown")

	case retryable(err) && t.Attempt < t.MaxAttempts:
		delay := q.Backoff(t.Attempt)
		if rerr := q.store.Requeue(t, q.now().Add(delay), err.Error()); rerr != nil {
			log.Error().Err(rerr).Msg("requeue task")
		}
		log.Warn().Err(err).Dur("dur", dur).Dur("retry_in", delay).Int("max_attempts", t.MaxAttempts).Msg("task retry scheduled")

	default:
		q.failed.Add(1)
		log.Warn().Err(err).Dur("dur", dur).Int("max_attempts", t.MaxAttempts).Msg("task.failed")
		if t.Repeat > 0 {
			// a failed cycle does not end a repeating schedule
			q.finish(t)
		} else if derr := q.store.Delete(t.ID); derr != nil {
			log.Error().Err(derr).Msg("delete task")
		}
		q.fireFailed(t, err)
	}
}

// heartbeat keeps a running task's claim alive so the reaper only recovers
// tasks whose worker is gone.
func (q *Queue) heartbeat(ctx context.Context, t *Task, log zerolog.Logger) {
	every := q.cfg.Visibility / 2
	if every <= 0 {
		every = q.cfg.Visibility
	}
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			held, err := q.store.Extend(t.ID, t.Attempt, q.now().Add(q.cfg.Visibility))
			if err != nil {
				log.Error().Err(err).Msg("extend claim")
				continue
			}
			if !held {
				log.Warn().Msg("claim lost while running")
				return
			}
		}
	}
}

func (q *Queue) finish(t *Task) {
	var err error
	if t.Repeat > 0 {
		err = q.store.Reschedule(t, q.now().Add(t.Repeat))
	} else {
		err = q.store.Delete(t.ID)
	}
	if err != nil {
		q.log.Error().Err(err).Str("id", t.ID).Msg("finish task")
	}
}

// reaper returns tasks whose workers vanished (crash, kill) to the ready set.
func (q *Queue) reaper(ctx context.Context) {
	every := q.cfg.Visibility / 2
	if every < time.Second {
		every = time.Second
	}
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			if _, err := q.RecoverStalled(); err != nil {
				q.log.Error().Err(err).Msg("recover stalled")
			}
		}
	}
}

// RecoverStalled requeues active tasks past their visibility deadline.
func (q *Queue) RecoverStalled() (int, error) {
	now := q.now()
	expired, err := q.store.Expired(now)
	if err != nil {
		return 0, err
	}
	for _, t := range expired {
		if t.Attempt >= t.MaxAttempts {
			q.failStalled(t)
			continue
		}
		if err := q.store.Requeue(t, now, "stalled"); err != nil {
			return 0, err
		}
		q.log.Warn().Str("task", t.Name).Str("id", t.ID).Int("attempt", t.Attempt).Msg("task.stalled")
		q.hmu.RLock()
		for _, fn := range q.onStalled {
			fn(t)
		}
		q.hmu.RUnlock()
	}
	if len(expired) > 0 {
		q.signal()
	}
	return len(expired), nil
}

// failStalled ends a stalled task that has used all of its attempts.
func (q *Queue) failStalled(t *Task) {
	q.failed.Add(1)
	q.log.Warn().Str("task", t.Name).Str("id", t.ID).Int("attempt", t.Attempt).Int("max_attempts", t.MaxAttempts).Msg("task.failed (stalled)")
	q.finish(t)
	q.fireFailed(t, ErrStalled)
}

func (q *Queue) fireCompleted(t *Task) {
	q.hmu.RLock()
	defer q.hmu.RUnlock()
	for _, fn := range q.onCompleted {
		fn(t)
	}
}

func (q *Queue) fireFailed(t *Task, err error) {
	q.hmu.RLock()
	defer q.hmu.RUnlock()
	for _, fn := range q.onFailed {
		fn(t, err)
	}
}
