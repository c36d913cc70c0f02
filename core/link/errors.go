package link

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("link request not found")
	ErrRetentionNotFound = errors.New("retention record not found")
	ErrIncidentNotFound  = errors.New("incident not found")

	ErrDuplicatePending = errors.New("a pending or active link already exists for this guardian and student")
	ErrCodeInvalid      = errors.New("confirmation code is invalid")
	ErrCodeExpired      = errors.New("confirmation code has expired")
	ErrRetentionExpired = errors.New("the recovery window for this relationship has closed")
	ErrAlreadyRelinked  = errors.New("a newer link already exists for this guardian and student")
	ErrNotSameSchool    = errors.New("guardian and student do not belong to the same school")

	// ErrConcurrentModification is retryable; whether to retry is the caller's call.
	ErrConcurrentModification = errors.New("link request was modified concurrently")
)

// InvalidTransitionError reports an event that is not legal from the
// request's current status, so the caller can explain why.
type InvalidTransitionError struct {
	Status Status
	Event  Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a link request in status %q", e.Event, e.Status)
}

func newInvalidTransition(status Status, event Event) error {
	return &InvalidTransitionError{Status: status, Event: event}
}
