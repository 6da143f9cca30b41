package entities

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors for the operation surface. Callers classify with errors.Is;
// lower layers wrap these with context while preserving the sentinel.
var (
	// ErrAccessDenied indicates a missing capability or a failed row access check
	ErrAccessDenied = errors.New("access denied")

	// ErrValidation indicates missing or malformed required fields
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateEntry indicates a uniqueness violation (type name, entity type+name)
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrNotFound indicates a referenced id does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidParent indicates a cycle or dangling reference in a tree edge
	ErrInvalidParent = errors.New("invalid parent")

	// ErrConflict indicates the operation would leave the graph inconsistent,
	// e.g. deleting an entity that still has live inbound relationship edges
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an unexpected storage or transaction failure after
	// a transaction was opened; the cause is preserved in the chain
	ErrInternal = errors.New("internal error")
)

// ErrorCode returns the audit-log error code for a classified error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return "ACCESS_DENIED"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrDuplicateEntry):
		return "DUPLICATE_ENTRY"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidParent):
		return "INVALID_PARENT"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrInternal):
		return "INTERNAL_ERROR"
	}
	return "UNKNOWN"
}

// ErrorSeverity returns the audit-log severity for a classified error.
// Pre-check rejections are warnings; storage failures are errors.
func ErrorSeverity(err error) string {
	if errors.Is(err, ErrInternal) {
		return SeverityError
	}
	return SeverityWarning
}
