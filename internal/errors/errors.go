// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a referenced campaign, contact, session or user is absent.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Retryable reports false: a missing record does not appear by retrying.
func (e *NotFoundError) Retryable() bool { return false }

func NewNotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func NewCampaignNotFound(id string) error {
	return &NotFoundError{Entity: "campaign", ID: id}
}

func NewSessionNotFound(id string) error {
	return &NotFoundError{Entity: "session", ID: id}
}

// ValidationError describes malformed task input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Retryable() bool { return false }

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError is returned when a campaign status change is not an allowed edge.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid campaign transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Retryable() bool { return false }

func NewInvalidTransition(from, to string) error {
	return &InvalidTransitionError{From: from, To: to}
}

// AuthError rejects a real-time connection before any room membership exists.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "authentication failed: " + e.Reason }

func NewAuth(reason string) error {
	return &AuthError{Reason: reason}
}

// RateLimitError is returned when an admission window is exhausted.
type RateLimitError struct {
	Key string
}

func (e *RateLimitError) Error() string { return "rate limit exceeded for " + e.Key }

func NewRateLimit(key string) error {
	return &RateLimitError{Key: key}
}

// IsRetryable reports whether err should be handed back to the queue's retry policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
