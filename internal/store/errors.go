package store

import (
	"errors"
	"fmt"

	"rsvp/internal/interval"
)

var (
	ErrNotFound          = errors.New("reservation not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidWindow     = errors.New("invalid window: start must be before end")
	ErrInvalidStatus     = errors.New("invalid reservation status")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrLockTimeout       = errors.New("timed out waiting for resource lock")
)

// ConflictError rejects a reservation whose window overlaps an active one.
// It carries the blocking reservation so callers can inspect it; the core
// never retries a conflicting request on its own.
type ConflictError struct {
	ExistingID int64
	ResourceID string
	Window     interval.Window
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("window conflicts with reservation %d on resource %s", e.ExistingID, e.ResourceID)
}

// IsConflict extracts the conflict details from an error chain.
func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
