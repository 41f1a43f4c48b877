package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for the engine's error taxonomy.
var (
	// ErrValidation matches any *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotFoundOrForbidden is returned when an identity does not exist or
	// lies outside the caller's tenant scope. The two cases are reported
	// identically.
	ErrNotFoundOrForbidden = errors.New("record not found")

	// ErrConflict matches any *ConflictError.
	ErrConflict = errors.New("conflict")

	// ErrBatchInput is returned when a bulk call is malformed as a whole.
	ErrBatchInput = errors.New("invalid batch")

	// ErrTenantRequired is returned when an entity is tenant scoped and the
	// caller context carries no tenant.
	ErrTenantRequired = errors.New("tenant context is required")

	// ErrForbidden is returned when a protected entity is called without an
	// active identity.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError carries per-field messages for a rejected input.
type ValidationError struct {
	Entity string
	Fields map[string]string
}

// NewValidationError returns a ValidationError with a single field message.
func NewValidationError(entity, field, msg string) *ValidationError {
	return &ValidationError{Entity: entity, Fields: map[string]string{field: msg}}
}

// Error returns the error string with fields in a stable order.
func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	if e.Entity == "" {
		return "validation failed: " + strings.Join(parts, "; ")
	}
	return fmt.Sprintf("%s: validation failed: %s", e.Entity, strings.Join(parts, "; "))
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports a missing or out-of-scope record. The message is the
// same whether the record is absent or owned by another tenant.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is reports whether target is ErrNotFoundOrForbidden.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFoundOrForbidden
}

// ConflictError reports a uniqueness violation at the storage layer.
type ConflictError struct {
	Entity string
	Detail string
	Err    error
}

// Error returns the error string.
func (e *ConflictError) Error() string {
	if e.Entity == "" {
		return "conflict: " + e.Detail
	}
	return fmt.Sprintf("%s: conflict: %s", e.Entity, e.Detail)
}

// Unwrap returns the underlying driver error.
func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// HookError wraps a failure raised by a lifecycle hook.
type HookError struct {
	Stage string
	Err   error

	// Committed is true when the primary write had already been persisted
	// (after* stages). The write is not rolled back.
	Committed bool
}

// Error returns the error string.
func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook failed: %v", e.Stage, e.Err)
}

// Unwrap returns the error raised by the hook.
func (e *HookError) Unwrap() error {
	return e.Err
}

// IsCommitted reports whether err is an after-hook failure whose primary
// write was persisted.
func IsCommitted(err error) bool {
	var hookErr *HookError
	return errors.As(err, &hookErr) && hookErr.Committed
}

// IsValidation returns true if err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if err is a not-found-or-forbidden failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFoundOrForbidden)
}

// IsConflict returns true if err is a storage conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
