// Package apperr centralizes the error taxonomy shared across the core
// components, so the IPC layer and the redirect handler can map any
// component's failure into the same vocabulary instead of each inventing
// its own status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers that need to branch on kind rather
// than on a specific sentinel (the IPC and redirect-handler boundaries).
type Code string

// Error codes.
const (
	NotFound         Code = "not_found"
	AlreadyExists    Code = "already_exists"
	ValidationError  Code = "validation_error"
	ConfigNotFound   Code = "config_not_found"
	ConfigInvalid    Code = "config_invalid"
	StorageTransient Code = "storage_transient"
	StorageLogical   Code = "storage_logical"
	ProtocolError    Code = "protocol_error"
	Unavailable      Code = "unavailable"
	Internal         Code = "internal"
)

// Error wraps an underlying error with a taxonomy Code.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap lets errors.Is/errors.As see through to the underlying sentinel.
func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error carrying cause as its underlying error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the Code from err, defaulting to Internal when err is not
// (or does not wrap) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
