package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotAReviewer     = errors.New("actor is not a reviewer on this approval request")
	ErrAlreadyReviewed  = errors.New("reviewer has already submitted a decision")
	ErrFeedbackRequired = errors.New("feedback text is required when requesting changes")
	ErrNoActivePhase    = errors.New("project has no phases")
)

// ValidationError reports malformed input. Problems holds every failed rule so
// callers can show them together.
type ValidationError struct {
	Problems []string
	cause    error
}

func NewValidationError(problems ...string) ValidationError {
	return ValidationError{Problems: problems}
}

func (e ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e ValidationError) Unwrap() error { return e.cause }

// FeedbackRequired is a ValidationError that also matches ErrFeedbackRequired.
func FeedbackRequired() ValidationError {
	return ValidationError{Problems: []string{ErrFeedbackRequired.Error()}, cause: ErrFeedbackRequired}
}

// InvalidTransitionError is returned when a phase advance precondition fails.
type InvalidTransitionError struct {
	From   int
	To     int
	Reason string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %d -> %d: %s", e.From, e.To, e.Reason)
}
