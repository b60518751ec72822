package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies a totari failure.
type ErrorCode string

const (
	ErrBackendUnavailable  ErrorCode = "BACKEND_UNAVAILABLE"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrTranscriptionFailed ErrorCode = "TRANSCRIPTION_FAILED"
	ErrPersistenceFailed   ErrorCode = "PERSISTENCE_FAILED"
	ErrUpdateFailed        ErrorCode = "UPDATE_FAILED"
	ErrUnauthenticated     ErrorCode = "UNAUTHENTICATED"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
)

// Error is a structured error carrying a code and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewBackendUnavailable reports a store or credential that was never initialized.
func NewBackendUnavailable(what string) *Error {
	return &Error{
		Code:    ErrBackendUnavailable,
		Message: fmt.Sprintf("%s not available", what),
		Details: map[string]any{"backend": what},
	}
}

func NewNotFound(collection, id string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s/%s not found", collection, id),
		Details: map[string]any{"collection": collection, "id": id},
	}
}

// NewValidationFailed reports audio that falls outside duration or size bounds.
func NewValidationFailed(msg string) *Error {
	return &Error{
		Code:    ErrValidationFailed,
		Message: msg,
	}
}

func NewTranscriptionFailed(err error) *Error {
	return &Error{
		Code:    ErrTranscriptionFailed,
		Message: "transcription failed",
		Err:     err,
	}
}

// NewPersistenceFailed wraps a write the store rejected.
func NewPersistenceFailed(op string, err error) *Error {
	return &Error{
		Code:    ErrPersistenceFailed,
		Message: op,
		Err:     err,
	}
}

func NewUpdateFailed(collection, id string, err error) *Error {
	return &Error{
		Code:    ErrUpdateFailed,
		Message: fmt.Sprintf("update %s/%s", collection, id),
		Details: map[string]any{"collection": collection, "id": id},
		Err:     err,
	}
}

func NewUnauthenticated() *Error {
	return &Error{
		Code:    ErrUnauthenticated,
		Message: "not signed in",
	}
}

func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// Is reports whether any error in err's chain is an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}
