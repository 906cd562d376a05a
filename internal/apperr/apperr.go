// Package apperr defines the stable error taxonomy surfaced at the
// system boundary. Callers must switch on Kind, never on message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable discriminator for an Error.
type Kind string

const (
	NotFound          Kind = "not_found"
	AlreadyExists     Kind = "already_exists"
	AlreadyProcessed  Kind = "already_processed"
	InvalidInput      Kind = "invalid_input"
	ConstraintViolation Kind = "constraint_violation"
	DatabaseBusy      Kind = "database_busy"
	IntegrityError    Kind = "integrity_error"
	MigrationFailure  Kind = "migration_failure"
	WriterBusy        Kind = "writer_busy"
)

// Error is the structured error type returned across the core/repository
// boundary. It wraps an underlying cause (if any) without losing the kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, apperr.ErrNotFound) style matching against the
// sentinel errors below: two *Error values match when their Kinds are equal.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and
// reports whether extraction succeeded.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// sentinel wraps one instance of each Kind so callers can write
// errors.Is(err, apperr.ErrNotFound) as well as the KindOf(err) form.
var (
	ErrNotFound           = &Error{Kind: NotFound, Message: "not found"}
	ErrAlreadyExists      = &Error{Kind: AlreadyExists, Message: "already exists"}
	ErrAlreadyProcessed   = &Error{Kind: AlreadyProcessed, Message: "already processed"}
	ErrInvalidInput       = &Error{Kind: InvalidInput, Message: "invalid input"}
	ErrConstraintViolation = &Error{Kind: ConstraintViolation, Message: "constraint violation"}
	ErrDatabaseBusy       = &Error{Kind: DatabaseBusy, Message: "database busy"}
	ErrIntegrityError     = &Error{Kind: IntegrityError, Message: "integrity error"}
	ErrMigrationFailure   = &Error{Kind: MigrationFailure, Message: "migration failure"}
	ErrWriterBusy         = &Error{Kind: WriterBusy, Message: "writer busy"}
)
