package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every typed error below matches exactly one of them via errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("version conflict")
	ErrNotFound          = errors.New("policy not found")
)

// Problem is a single field-level validation failure.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports a malformed policy or a violated invariant.
type ValidationError struct {
	Problems []Problem
}

// NewValidationError creates a ValidationError with a single problem.
func NewValidationError(field, format string, args ...any) *ValidationError {
	e := &ValidationError{}
	e.Add(field, format, args...)
	return e
}

// Add appends a problem.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Problems = append(e.Problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Merge appends all problems of another error, prefixing their fields.
func (e *ValidationError) Merge(prefix string, err error) {
	if err == nil {
		return
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		e.Add(prefix, "%v", err)
		return
	}
	for _, p := range ve.Problems {
		field := p.Field
		switch {
		case prefix == "":
		case field == "":
			field = prefix
		default:
			field = prefix + "." + field
		}
		e.Problems = append(e.Problems, Problem{Field: field, Message: p.Message})
	}
}

// OrNil returns nil when no problems were recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.Field == "" {
			parts = append(parts, p.Message)
			continue
		}
		parts = append(parts, p.Field+": "+p.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidTransitionError reports a disallowed status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ConflictError reports a write that supplied a stale version.
// The caller must re-fetch and retry.
type ConflictError struct {
	ID       string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("policy %s: stale version %d (current %d)", e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError reports an unknown policy id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("policy %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
