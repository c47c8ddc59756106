package shared

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates the caller's roles do not allow the operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPeriodClosed indicates the period does not accept submissions or edits right now.
	ErrPeriodClosed = errors.New("period closed for submissions")
	// ErrInvalidTransition indicates a status change outside the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflictingTransition indicates a concurrent write won the compare-and-set.
	ErrConflictingTransition = errors.New("conflicting concurrent transition")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrDependencyUnavailable indicates persistence or lookup failure, including timeouts.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// TransitionError names the current state and the attempted target.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
}

// Is reports ErrInvalidTransition equivalence.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError points at the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is reports ErrValidation equivalence.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Unavailable wraps a persistence or lookup failure as ErrDependencyUnavailable.
// Errors that already carry a domain meaning are returned untouched.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) || errors.Is(err, ErrDependencyUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: timeout: %w", op, errors.Join(ErrDependencyUnavailable, err))
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrDependencyUnavailable, err))
}

// IsDomainError reports whether err is an expected business outcome rather than a fault.
func IsDomainError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrPeriodClosed),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConflictingTransition),
		errors.Is(err, ErrValidation):
		return true
	default:
		return false
	}
}
