package truncate

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeIneligibleStream indicates the stream is not a $ce- or $et- stream.
	ErrCodeIneligibleStream ErrorCode = "INELIGIBLE_STREAM"

	// ErrCodeInvalidRequest indicates a malformed request, such as a negative start.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrCodeUnknownCheckpoint indicates a consumer position could not be determined.
	ErrCodeUnknownCheckpoint ErrorCode = "UNKNOWN_CHECKPOINT"

	// ErrCodeSystemProjectionBehind indicates a system projection has not
	// passed the candidate yet.
	ErrCodeSystemProjectionBehind ErrorCode = "SYSTEM_PROJECTION_BEHIND"

	// ErrCodeConsistency indicates the stream changed under the engine or
	// an internal bound was violated.
	ErrCodeConsistency ErrorCode = "CONSISTENCY_VIOLATION"

	// ErrCodeWriteConflict indicates the metadata changed between read and write.
	ErrCodeWriteConflict ErrorCode = "WRITE_CONFLICT"

	// ErrCodeTransport indicates the store could not be reached or read.
	ErrCodeTransport ErrorCode = "TRANSPORT"
)

// Error is returned by the engine when a run cannot produce a safe point.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Stream is the link stream the run was for.
	Stream string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Stream != "" {
		msg += fmt.Sprintf(" (stream=%s)", e.Stream)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, stream, message string, err error) *Error {
	return &Error{Code: code, Stream: stream, Message: message, Err: err}
}

// CodeOf returns the code of an engine error, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsBlocked reports whether the run found no safe point because a consumer
// position is unknown or behind. This is an expected outcome, not a fault.
func IsBlocked(err error) bool {
	switch CodeOf(err) {
	case ErrCodeUnknownCheckpoint, ErrCodeSystemProjectionBehind:
		return true
	}
	return false
}

// IsConflict reports whether a commit lost an optimistic concurrency race.
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeWriteConflict
}

// IsInvalid reports whether the request itself was rejected before any I/O.
func IsInvalid(err error) bool {
	switch CodeOf(err) {
	case ErrCodeIneligibleStream, ErrCodeInvalidRequest:
		return true
	}
	return false
}
