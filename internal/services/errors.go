// Package services defines the circulation core: credit ledger, copy state
// machine, reservation queue, borrow/return engine, extension workflow and
// maintenance jobs. This file centralizes the error taxonomy so that service
// methods report failures consistently and callers can classify them with
// errors.Is.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-circulation-backend/internal/repo"
)

// Error kinds. Every *Error returned by this package unwraps to one of these.
var (
	// ErrNotFound: unknown barcode, reader, title or record id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState: the operation is illegal for the current lifecycle
	// state (e.g. borrowing a damaged copy).
	ErrInvalidState = errors.New("invalid state")

	// ErrPermissionDenied: credit threshold, quota or role violation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict: a duplicate that would break an at-most-one rule.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput: malformed arguments (non-positive days, unknown decision).
	ErrInvalidInput = errors.New("invalid input")

	// ErrJobRunning is returned when a maintenance job is already in progress.
	ErrJobRunning = fmt.Errorf("%w: job already running", ErrConflict)
)

// Error is a classified service failure. Details carries the context a
// caller needs to render a message (current credit, limit, status, ...).
type Error struct {
	Kind    error
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

// Unwrap exposes Kind to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Kind }

// newError builds an *Error; kv is a flat list of detail key/value pairs.
func newError(kind error, msg string, kv ...any) *Error {
	e := &Error{Kind: kind, Message: msg}
	if len(kv) > 1 {
		e.Details = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				e.Details[k] = kv[i+1]
			}
		}
	}
	return e
}

func notFound(entity, key string) *Error {
	return newError(ErrNotFound, entity+" not found", entity, key)
}

// mapNotFound converts repo.ErrNotFound into a classified NotFound error and
// passes everything else through.
func mapNotFound(err error, entity, key string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(entity, key)
	}
	return err
}

// staleState reports a lost race on a conditional update.
func staleState(entity, key string) *Error {
	return newError(ErrConflict, entity+" was modified concurrently", entity, key)
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
