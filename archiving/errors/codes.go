package errors

import (
	"context"
	"errors"
)

// ErrorCode classifies a failure for problem reports and the run ledger.
// Error codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Resource errors.

	// CodeNotFound indicates a requested object or record does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConflict indicates a destination exists with different content.
	CodeConflict ErrorCode = "CONFLICT"

	// Validation errors.

	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration error prevents the operation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// CodeSchemaFailed indicates an artifact failed schema validation.
	CodeSchemaFailed ErrorCode = "SCHEMA_VALIDATION_FAILED"

	// Infrastructure errors.

	// CodeStorage indicates an object store call failed.
	CodeStorage ErrorCode = "STORAGE_ERROR"

	// CodeService indicates the record service rejected a request.
	CodeService ErrorCode = "SERVICE_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCanceled indicates the run was cancelled before the item resolved.
	CodeCanceled ErrorCode = "CANCELED"

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Classify maps an error onto an ErrorCode.
func Classify(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrObjectNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidURI), errors.Is(err, ErrMalformedValue):
		return CodeInvalidInput
	case errors.Is(err, ErrUnknownScheme), errors.Is(err, ErrCrossBackend):
		return CodeInvalidConfig
	case errors.Is(err, ErrArtifactSchema), errors.Is(err, ErrIncompatibleArtifact):
		return CodeSchemaFailed
	case errors.Is(err, ErrBadStatus), errors.Is(err, ErrRetriesExhausted):
		return CodeService
	}

	var opErr *Error
	if errors.As(err, &opErr) && opErr.Object != "" {
		return CodeStorage
	}
	return CodeUnknown
}
