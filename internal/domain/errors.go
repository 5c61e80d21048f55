package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrAuthentication    = errors.New("authentication failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUpstream          = errors.New("upstream provider error")
	ErrConfiguration     = errors.New("missing configuration")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInactiveProduct   = errors.New("product is not available")
)

// ValidationError names the rule a purchase request violated.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
