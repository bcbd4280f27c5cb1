// Package apperr defines the error taxonomy shared by the engine, bus, and
// HTTP surface: validation_error, not_found, timeout, execution_error, and
// storage_error. Handlers and repositories return these tagged types rather
// than bare errors so callers can classify failures with errors.As instead
// of matching on message substrings.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Type is one of the spec's error_type values.
type Type string

const (
	TypeValidation Type = "validation_error"
	TypeNotFound   Type = "not_found"
	TypeTimeout    Type = "timeout"
	TypeExecution  Type = "execution_error"
	TypeStorage    Type = "storage_error"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrTimeout    = errors.New("timeout")
	ErrExecution  = errors.New("execution error")
	ErrStorage    = errors.New("storage error")
)

// ValidationError reports a non-retryable spec or input problem.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing flow, run, or node type.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Entity)
}
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// TimeoutError reports a dispatch or activity that exceeded its budget.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string { return e.Message }
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

func NewTimeoutError(format string, args ...any) error {
	return &TimeoutError{Message: fmt.Sprintf(format, args...)}
}

// ExecutionError reports a node handler failure.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string { return e.Message }
func (e *ExecutionError) Unwrap() error { return ErrExecution }

func NewExecutionError(format string, args ...any) error {
	return &ExecutionError{Message: fmt.Sprintf(format, args...)}
}

// StorageError reports the underlying store being unavailable. RetryAfter
// is surfaced at HTTP as a hint alongside 503.
type StorageError struct {
	Message    string
	RetryAfter string
}

func (e *StorageError) Error() string { return e.Message }
func (e *StorageError) Unwrap() error { return ErrStorage }

func NewStorageError(retryAfter string, format string, args ...any) error {
	return &StorageError{Message: fmt.Sprintf(format, args...), RetryAfter: retryAfter}
}

// IsNotFound reports whether err (or anything it wraps) is a NotFoundError.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err (or anything it wraps) is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsTimeout reports whether err (or anything it wraps) is a TimeoutError.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsExecution reports whether err (or anything it wraps) is an ExecutionError.
func IsExecution(err error) bool { return errors.Is(err, ErrExecution) }

// IsStorage reports whether err (or anything it wraps) is a StorageError.
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }

// Classify maps err to its error_type, falling back to substring matching
// over the error message for untyped errors from legacy/external handlers,
// per spec §4.1 / §9.
func Classify(err error) Type {
	if err == nil {
		return ""
	}
	switch {
	case IsValidation(err):
		return TypeValidation
	case IsNotFound(err):
		return TypeNotFound
	case IsTimeout(err):
		return TypeTimeout
	case IsStorage(err):
		return TypeStorage
	case IsExecution(err):
		return TypeExecution
	}
	return classifyBySubstring(err.Error())
}

func classifyBySubstring(msg string) Type {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return TypeTimeout
	case strings.Contains(lower, "not found"):
		return TypeNotFound
	case strings.Contains(lower, "validation"), strings.Contains(lower, "invalid"):
		return TypeValidation
	default:
		return TypeExecution
	}
}
