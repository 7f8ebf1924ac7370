package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound covers missing references and references the caller may not see.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a draft edit was based on a stale version.
	ErrConflict = errors.New("version conflict")
	// ErrNotAvailable is returned when a quiz is unpublished or outside its window.
	ErrNotAvailable = errors.New("quiz not available")
	// ErrAccessDenied is returned for a bad access code, a blocked IP or a disallowed anonymous actor.
	ErrAccessDenied = errors.New("access denied")
	// ErrLimitExceeded is returned when the attempt ceiling is reached.
	ErrLimitExceeded = errors.New("attempt limit exceeded")
	// ErrValidation is returned for malformed payloads and violated structural constraints.
	ErrValidation = errors.New("validation failed")

	ErrQuizNotFound     = fmt.Errorf("quiz %w", ErrNotFound)
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	ErrAttemptNotFound  = fmt.Errorf("attempt %w", ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)
	ErrVersionNotFound  = fmt.Errorf("quiz version %w", ErrNotFound)

	// ErrInvalidAccessCode never says whether a code was configured.
	ErrInvalidAccessCode = fmt.Errorf("invalid access code: %w", ErrAccessDenied)
	ErrIPNotAllowed      = fmt.Errorf("ip address not allowed: %w", ErrAccessDenied)
	ErrAnonymousDenied   = fmt.Errorf("anonymous attempts not allowed: %w", ErrAccessDenied)

	// ErrAttemptInProgress is returned when results are requested before submission.
	ErrAttemptInProgress = fmt.Errorf("attempt still in progress: %w", ErrNotAvailable)

	// ErrDuplicateAttempt is raised by stores when the in-progress uniqueness constraint fires.
	ErrDuplicateAttempt = errors.New("in-progress attempt already exists")
	// ErrAttemptCompleted is raised by stores when a concurrent submit already finished the attempt.
	ErrAttemptCompleted = errors.New("attempt already completed")
)

// ConflictError carries the persisted version so the caller can re-fetch and retry.
type ConflictError struct {
	CurrentVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: current version is %d", e.CurrentVersion)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Availability is the state of a quiz's schedule relative to now.
type Availability string

const (
	AvailabilityScheduled   Availability = "Scheduled"
	AvailabilityOpen        Availability = "Open"
	AvailabilityClosed      Availability = "Closed"
	AvailabilityUnpublished Availability = "Unpublished"
)

// NotAvailableError explains why an attempt cannot start and the relevant bounds.
type NotAvailableError struct {
	Status         Availability
	AvailableFrom  *time.Time
	AvailableUntil *time.Time
}

func (e *NotAvailableError) Error() string {
	switch e.Status {
	case AvailabilityScheduled:
		if e.AvailableFrom != nil {
			return fmt.Sprintf("quiz opens at %s", e.AvailableFrom.UTC().Format(time.RFC3339))
		}
	case AvailabilityClosed:
		if e.AvailableUntil != nil {
			return fmt.Sprintf("quiz closed at %s", e.AvailableUntil.UTC().Format(time.RFC3339))
		}
	case AvailabilityUnpublished:
		return "quiz is not published"
	}
	return fmt.Sprintf("quiz not available (%s)", e.Status)
}

func (e *NotAvailableError) Unwrap() error { return ErrNotAvailable }

// LimitError reports the ceiling that was hit.
type LimitError struct {
	Limit int
	Used  int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("attempt limit of %d reached", e.Limit)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
