package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the service.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrConflict indicates a resource already exists (e.g. a plan for the same
// period and category).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// IsClientError reports whether err is one of the domain errors caused by the
// request rather than by the system.
func IsClientError(err error) bool {
	var notFound *ErrNotFound
	var validation *ErrValidation
	var conflict *ErrConflict
	return errors.As(err, &notFound) || errors.As(err, &validation) || errors.As(err, &conflict)
}
