// internal/queue/task.go
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
)

// Priority tiers; lower numbers are claimed first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) Valid() bool { return p >= PriorityHigh && p <= PriorityLow }

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// PriorityFrom maps a contact/job priority label onto a queue tier.
func PriorityFrom(p model.Priority) Priority {
	switch p {
	case model.PriorityHigh:
		return PriorityHigh
	case model.PriorityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

type TaskState string

const (
	StateWaiting TaskState = "waiting"
	StateDelayed TaskState = "delayed"
	StateActive  TaskState = "active"
)

// Task is the stored unit of work. Attempt counts claims, starting at 1 for the first run.
type Task struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Priority    Priority        `json:"priority"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	Seq         uint64          `json:"seq"`
	RunAt       time.Time       `json:"runAt"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	Deadline    time.Time       `json:"deadline,omitzero"`
	Active      bool            `json:"active"`
	DedupKey    string          `json:"dedupKey,omitempty"`
	Tag         string          `json:"tag,omitempty"`
	Repeat      time.Duration   `json:"repeat,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
}

// State classifies the task relative to now.
func (t *Task) State(now time.Time) TaskState {
	switch {
	case t.Active:
		return StateActive
	case t.RunAt.After(now):
		return StateDelayed
	default:
		return StateWaiting
	}
}

// Decode unmarshals the payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return appErrors.NewValidation("payload", err.Error())
	}
	return nil
}

// EnqueueOptions describes one submission. Delay nil means the priority default.
type EnqueueOptions struct {
	Name     string
	Payload  any
	Priority Priority
	Delay    *time.Duration
	DedupKey string
	Tag      string
	Repeat   time.Duration
	Attempts int
}

// After is a convenience for EnqueueOptions.Delay.
func After(d time.Duration) *time.Duration { return &d }

type Stats struct {
	Name      string `json:"name"`
	Waiting   int    `json:"waiting"`
	Delayed   int    `json:"delayed"`
	Active    int    `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Paused    bool   `json:"paused"`
}

var (
	ErrNoTask   = errors.New("queue: no task ready")
	ErrClosed   = errors.New("queue: closed")
	ErrNotFound = errors.New("queue: task not found")
	ErrStalled  = errors.New("queue: task stalled on its last attempt")

	// ErrStopRepeat ends a repeating task's chain without counting a failure.
	ErrStopRepeat = errors.New("queue: stop repeat")
)

// NoRetry marks an error as final for this task. Handlers that already
// re-enqueued their own follow-up return it so the queue does not retry twice.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return e.err.Error() }
func (e noRetryError) Unwrap() error { return e.err }

func retryable(err error) bool {
	return !IsNoRetry(err) && appErrors.IsRetryable(err)
}
