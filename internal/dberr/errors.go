// Package dberr defines the error kinds surfaced by the storage engine and
// its lifecycle manager.
//
// Every failure the engine reports carries one Code. Callers match kinds
// with errors.Is against the sentinel values (ErrVersionSkew, ...) or with
// the Is* helpers; both see through fmt.Errorf %w wrapping.
package dberr

import (
	"errors"
	"fmt"
)

// Code categorizes storage errors.
type Code string

const (
	// CodeSchemaMismatch indicates a conflicting schema declaration: the same
	// version declared twice with different tables, or a later version that
	// drops or redefines something an earlier one released.
	CodeSchemaMismatch Code = "SCHEMA_MISMATCH"

	// CodeVersionSkew indicates the persisted store is newer than requested.
	CodeVersionSkew Code = "VERSION_SKEW"

	// CodeUnknownTable indicates a table name absent from the schema.
	CodeUnknownTable Code = "UNKNOWN_TABLE"

	// CodeHandleClosed indicates use of a closed or destroyed store handle.
	CodeHandleClosed Code = "HANDLE_CLOSED"

	// CodeSubstrateFailure wraps an I/O error from the durable substrate.
	CodeSubstrateFailure Code = "SUBSTRATE_FAILURE"

	// CodeConstraint indicates a unique index or primary key violation.
	CodeConstraint Code = "CONSTRAINT"

	// CodeInvalidRecord indicates a record that cannot be stored as-is:
	// missing primary key, undecodable, or rejected by the table's JSON Schema.
	CodeInvalidRecord Code = "INVALID_RECORD"
)

// Sentinels for errors.Is matching. Only the Code is compared.
var (
	ErrSchemaMismatch   = &Error{Code: CodeSchemaMismatch}
	ErrVersionSkew      = &Error{Code: CodeVersionSkew}
	ErrUnknownTable     = &Error{Code: CodeUnknownTable}
	ErrHandleClosed     = &Error{Code: CodeHandleClosed}
	ErrSubstrateFailure = &Error{Code: CodeSubstrateFailure}
	ErrConstraint       = &Error{Code: CodeConstraint}
	ErrInvalidRecord    = &Error{Code: CodeInvalidRecord}
)

// Error is a storage error with structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Store names the affected store, if known.
	Store string

	// Table names the affected table, if any.
	Table string

	// Err is the underlying cause (substrate errors, decode errors).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	switch {
	case e.Store != "" && e.Table != "":
		msg += fmt.Sprintf(" (store=%s, table=%s)", e.Store, e.Table)
	case e.Store != "":
		msg += fmt.Sprintf(" (store=%s)", e.Store)
	case e.Table != "":
		msg += fmt.Sprintf(" (table=%s)", e.Table)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Substrate wraps a durable-substrate error. Errors that already carry a
// Code (for example a HandleClosed raised inside a transaction callback)
// are returned unchanged so their kind survives.
func Substrate(cause error, op string) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	return &Error{Code: CodeSubstrateFailure, Message: op, Err: cause}
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsSchemaMismatch returns true if err is a schema mismatch error.
func IsSchemaMismatch(err error) bool { return errors.Is(err, ErrSchemaMismatch) }

// IsVersionSkew returns true if err is a version skew error.
func IsVersionSkew(err error) bool { return errors.Is(err, ErrVersionSkew) }

// IsUnknownTable returns true if err is an unknown table error.
func IsUnknownTable(err error) bool { return errors.Is(err, ErrUnknownTable) }

// IsHandleClosed returns true if err is a closed handle error.
func IsHandleClosed(err error) bool { return errors.Is(err, ErrHandleClosed) }

// IsSubstrateFailure returns true if err is a substrate failure.
func IsSubstrateFailure(err error) bool { return errors.Is(err, ErrSubstrateFailure) }
