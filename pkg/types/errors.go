package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-checkable category attached to every error that
// reaches a client. The kind decides who sees the failure: validation and
// not-found errors go to the originating client only, never to a room.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindExternalService ErrorKind = "external_service"
	KindInternal        ErrorKind = "internal"
)

// Error carries a kind, a human-readable message, and an optional cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports malformed or missing required input.
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NewNotFoundError reports a reference to an unknown session or room.
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// NewExternalServiceError reports a failure, timeout, or malformed response
// from an external collaborator.
func NewExternalServiceError(message string, cause error) *Error {
	return &Error{Kind: KindExternalService, Message: message, Err: cause}
}

// NewInternalError reports an unexpected failure inside the service.
func NewInternalError(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: cause}
}

// KindOf classifies any error. Errors that are not a *types.Error are
// reported as internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf extracts the client-safe message from an error. Causes are never
// exposed to clients; only the message travels over the wire.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
