package domain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure class of the coordinator.
type ErrorCode string

const (
	CodeInvalidResource    ErrorCode = "INVALID_RESOURCE"
	CodeSpawnBlocked       ErrorCode = "SPAWN_BLOCKED"
	CodeAlreadyOpen        ErrorCode = "ALREADY_OPEN"
	CodeDetectionAmbiguous ErrorCode = "DETECTION_AMBIGUOUS"
)

// Error is a coded coordinator error.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidResource    = &Error{Code: CodeInvalidResource, Message: "invalid resource locator"}
	ErrSpawnBlocked       = &Error{Code: CodeSpawnBlocked, Message: "external session could not be created"}
	ErrAlreadyOpen        = &Error{Code: CodeAlreadyOpen, Message: "an external session is already open"}
	ErrDetectionAmbiguous = &Error{Code: CodeDetectionAmbiguous, Message: "detector signals disagree"}
)

// NewError creates a coded error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a coded error with a cause.
func WrapError(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// CodeOf extracts the code from err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
