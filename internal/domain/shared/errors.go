// Package shared contains common domain types, errors and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds. Every error returned by the engine matches exactly one of
// them through errors.Is().
var (
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown user or achievement.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict marks a uniqueness conflict (duplicate unlock).
	ErrConflict = errors.New("conflict")

	// ErrClamped is a warning kind: the operation succeeded but a value was
	// clamped to stay inside its domain.
	ErrClamped = errors.New("value clamped")

	// ErrInternal marks storage or atomic-operation failures.
	ErrInternal = errors.New("internal error")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "achievement", "leaderboard"
	Op      string // Operation that failed, e.g., "Award", "Unlock"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Internal wraps a storage failure as ErrInternal. Errors that already carry
// a known kind (not found, validation, ...) pass through unchanged so callers
// keep seeing the original classification.
func Internal(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsValidation(err) || IsConflict(err) || IsInternal(err) {
		return err
	}
	return WrapError(domain, op, ErrInternal, "storage failure", err)
}

// Progression domain errors
var (
	ErrUserNotFound  = NewDomainError("progression", "Find", ErrNotFound, "user progression not found")
	ErrEmptyUserID   = NewDomainError("progression", "Validate", ErrValidation, "user id is required")
	ErrZeroAmount    = NewDomainError("progression", "Award", ErrValidation, "amount must be non-zero")
	ErrEmptyReason   = NewDomainError("progression", "Award", ErrValidation, "reason is required")
	ErrPointsClamped = NewDomainError("progression", "Award", ErrClamped, "points clamped at zero")
)

// Achievement domain errors
var (
	ErrAchievementNotFound = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found or inactive")
	ErrEmptyAchievementID  = NewDomainError("achievement", "Validate", ErrValidation, "achievement id is required")
	ErrAlreadyUnlocked     = NewDomainError("achievement", "Unlock", ErrConflict, "achievement already unlocked")
	ErrInvalidContext      = NewDomainError("achievement", "Unlock", ErrValidation, "unlock context is not serializable")
)

// Leaderboard domain errors
var (
	ErrNotRanked    = NewDomainError("leaderboard", "Position", ErrNotFound, "user is not ranked under this filter")
	ErrInvalidLimit = NewDomainError("leaderboard", "Validate", ErrValidation, "limit must be positive")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict checks if the error is a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClamped checks if the error is a clamping warning.
func IsClamped(err error) bool {
	return errors.Is(err, ErrClamped)
}

// IsInternal checks if the error is an internal (storage) failure.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}
