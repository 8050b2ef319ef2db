package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrStore        = errors.New("store error")
)

type AppError struct {
	Err     error  // sentinel (possibly joined with the underlying cause)
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// InvalidID reports a public id that does not decode to an internal id.
func InvalidID(resource, publicID string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: fmt.Sprintf("invalid %s id %q", resource, publicID),
		Field:   "publicId",
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden reports a valid actor attempting a transition the record's
// state does not allow, e.g. deleting an approved contribution.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized reports an actor lacking ownership or role for the action,
// or credentials that do not check out.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// StoreFailed wraps a persistence failure. Both ErrStore and the cause
// stay reachable through errors.Is / errors.As.
func StoreFailed(op string, err error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrStore, err),
		Message: fmt.Sprintf("store failure while %s", op),
	}
}
