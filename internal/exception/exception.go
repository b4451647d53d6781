// Package exception defines the error taxonomy of a writer run.
//
// Fatal kinds (configuration, validation, authentication) abort the run before or
// at the first offending row. Record errors are never returned to the caller; they
// are captured by the error sink and only reported once every row has been attempted.
package exception

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	// KindRecord is a recoverable per-row or per-batch failure.
	KindRecord Kind = iota
	// KindConfiguration covers unknown operations and missing credentials.
	KindConfiguration
	// KindValidation covers broken data contracts: missing columns, empty keys.
	KindValidation
	// KindAuthentication is a rejected credential probe.
	KindAuthentication
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	default:
		return "record"
	}
}

// ErrUnknownOperation is wrapped by every lookup of an operation that is not registered.
var ErrUnknownOperation = errors.New("unknown operation")

// ErrMissingCredential is returned when no API token is configured.
var ErrMissingCredential = errors.New("missing credential")

// Error is a classified failure raised by a writer component.
type Error struct {
	Kind Kind
	// Module names the component that raised the error ("endpoint", "transform", "dispatch", ...).
	Module  string
	Message string
	Err     error
}

// New creates an Error of the given kind.
func New(kind Kind, module, message string, err error) *Error {
	return &Error{Kind: kind, Module: module, Message: message, Err: err}
}

// Configuration creates a KindConfiguration error.
func Configuration(module, message string, err error) *Error {
	return New(KindConfiguration, module, message, err)
}

// Validation creates a KindValidation error with a formatted message.
func Validation(module, format string, a ...interface{}) *Error {
	return New(KindValidation, module, fmt.Sprintf(format, a...), nil)
}

// Authentication creates a KindAuthentication error.
func Authentication(module, message string, err error) *Error {
	return New(KindAuthentication, module, message, err)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
// Errors outside the taxonomy are reported as KindRecord.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRecord
}

// IsFatal reports whether err must terminate the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindRecord
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
