package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrScanInProgress is returned when a scan is requested while another is running.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrSyncInProgress is returned when a sync is requested while another is running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrScanActive is returned when a sync is requested while a scan is running.
	ErrScanActive = errors.New("a scan is running, try again once it finishes")
	// ErrSyncActive is returned when a scan is requested while a sync is running.
	ErrSyncActive = errors.New("a sync is running, try again once it finishes")
	// ErrUnknownInterval is returned for interval keys outside the accepted set.
	ErrUnknownInterval = errors.New("unknown scan interval")
)

// Error represents a general error in the scheduler library.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError wraps an existing error with a message.
func WrapError(err error, message string) error {
	return &Error{Message: message, Err: err}
}
