// Package errorwrapper holds the error taxonomy shared by the crawl and
// download pipeline.
package errorwrapper

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrUnsafeArchive marks an archive member that would escape its destination
	ErrUnsafeArchive = errors.New("unsafe archive member")
	// ErrInsufficientSpace marks a download refused by the free-disk guard
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// WrapError wraps an error with additional context information
func WrapError(err error, message string) error {
	if err == nil {
		return fmt.Errorf("%s: <nil>", message)
	}
	return fmt.Errorf("%s: %w", message, err)
}

// NewError creates a new error with a formatted message
func NewError(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// ProtocolError reports that the remote service answered in a way the crawler
// cannot interpret: missing anti-forgery token, undecodable or unexpected
// listing payload. It aborts the crawl.
type ProtocolError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.Op != "" {
		msg += " during " + e.Op
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a ProtocolError for the given operation.
func NewProtocolError(op, message string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Message: message, Err: err}
}

// DownloadError reports a failure to materialize one item. It never aborts a
// scan; callers record it and move on to the next item.
type DownloadError struct {
	ItemID  int64
	URL     string
	Message string
	Err     error
}

func (e *DownloadError) Error() string {
	msg := fmt.Sprintf("download error for item %d", e.ItemID)
	if e.URL != "" {
		msg += fmt.Sprintf(" (%s)", e.URL)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// NewDownloadError creates a DownloadError.
func NewDownloadError(itemID int64, url, message string, err error) *DownloadError {
	return &DownloadError{ItemID: itemID, URL: url, Message: message, Err: err}
}

// IsProtocolError reports whether err carries a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsDownloadError reports whether err carries a DownloadError.
func IsDownloadError(err error) bool {
	var de *DownloadError
	return errors.As(err, &de)
}

// ValidationError represents validation errors with field-specific information
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// NetworkError represents network-related errors
type NetworkError struct {
	URL     string
	Reason  string
	Wrapped error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error for URL '%s': %s", e.URL, e.Reason)
}

func (e *NetworkError) Unwrap() error {
	return e.Wrapped
}

// NewNetworkError creates a new network error
func NewNetworkError(url, reason string, wrapped error) *NetworkError {
	return &NetworkError{URL: url, Reason: reason, Wrapped: wrapped}
}

// HTTPError represents a non-success HTTP status
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *HTTPError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("HTTP %d error for URL '%s': %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP %d error: %s", e.StatusCode, e.Message)
}

// NewHTTPErrorWithURL creates a new HTTP error with URL context
func NewHTTPErrorWithURL(statusCode int, message, url string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Message: message, URL: url}
}
