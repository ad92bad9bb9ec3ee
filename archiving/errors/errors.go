// Package errors provides error types and handling for workspace archiving operations.
package errors

import (
	"errors"
	"fmt"
)

// Error represents an archiving operation error with context about what failed.
// It wraps the underlying store or service error with the table, record or
// object the operation was working on.
type Error struct {
	// Op is the operation that failed (e.g., "plan", "transfer", "update")
	Op string

	// Table is the data table name (if applicable)
	Table string

	// Record is the record identifier within Table (if applicable)
	Record string

	// Object is the storage object URI (if applicable)
	Object string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	switch {
	case e.Object != "":
		return fmt.Sprintf("arkyve.%s %s: %v", e.Op, e.Object, e.Err)
	case e.Table != "" && e.Record != "":
		return fmt.Sprintf("arkyve.%s %s/%s: %v", e.Op, e.Table, e.Record, e.Err)
	case e.Table != "":
		return fmt.Sprintf("arkyve.%s table %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("arkyve.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithTable adds table context to an existing error.
func (e *Error) WithTable(table string) *Error {
	e.Table = table
	return e
}

// WithRecord adds record context to an existing error.
func (e *Error) WithRecord(record string) *Error {
	e.Record = record
	return e
}

// WithObject adds storage object context to an existing error.
func (e *Error) WithObject(object string) *Error {
	e.Object = object
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewObjectError creates a new Error with object context.
func NewObjectError(op, object string, err error) *Error {
	return &Error{
		Op:     op,
		Object: object,
		Err:    err,
	}
}

// NewRecordError creates a new Error with table and record context.
func NewRecordError(op, table, record string, err error) *Error {
	return &Error{
		Op:     op,
		Table:  table,
		Record: record,
		Err:    err,
	}
}

// Sentinel errors for archiving failures.
// These can be used with errors.Is() for error checking.
var (
	// ErrObjectNotFound indicates that the requested object does not exist
	ErrObjectNotFound = errors.New("arkyve: object not found")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("arkyve: invalid input")

	// ErrInvalidURI indicates that an object identifier is not <scheme>://<container>/<path>
	ErrInvalidURI = errors.New("arkyve: invalid object uri")

	// ErrCrossBackend indicates a server-side copy between two different storage backends
	ErrCrossBackend = errors.New("arkyve: copy across storage backends")

	// ErrUnknownScheme indicates that no store is configured for a URI scheme
	ErrUnknownScheme = errors.New("arkyve: no store for scheme")

	// ErrMalformedValue indicates a reference-bearing value that cannot be planned
	ErrMalformedValue = errors.New("arkyve: malformed attribute value")

	// ErrRetriesExhausted indicates a stubborn retry ran out of attempts
	ErrRetriesExhausted = errors.New("arkyve: retries exhausted")

	// ErrBadStatus indicates a record service request returned a non-OK status
	ErrBadStatus = errors.New("arkyve: bad response status")

	// ErrWorkspaceAttributes indicates the workspace attribute update failed; fatal to the run
	ErrWorkspaceAttributes = errors.New("arkyve: failed to update workspace attributes")

	// ErrTransferGate indicates the run stopped because some transfers errored
	ErrTransferGate = errors.New("arkyve: transfer gate failed")

	// ErrUpdateGate indicates the run stopped because some record updates failed
	ErrUpdateGate = errors.New("arkyve: update gate failed")

	// ErrArtifactSchema indicates a persisted artifact did not match its schema
	ErrArtifactSchema = errors.New("arkyve: artifact schema violation")

	// ErrIncompatibleArtifact indicates a persisted artifact was written by an incompatible format version
	ErrIncompatibleArtifact = errors.New("arkyve: incompatible artifact version")

	// ErrNoProblems indicates a reattempt was requested but no problem report exists
	ErrNoProblems = errors.New("arkyve: no problem report to reattempt")
)

// IsObjectNotFound checks if an error indicates that an object was not found.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsGateFailure reports whether err is one of the orchestrator gate failures.
func IsGateFailure(err error) bool {
	return errors.Is(err, ErrTransferGate) || errors.Is(err, ErrUpdateGate)
}
