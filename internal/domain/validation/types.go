// Package validation provides action request validation and input
// sanitization. It rejects malformed requests early, before any gate or
// interceptor runs.
package validation

import "fmt"

// ValidationError represents a validation failure on a named field.
// The Message field contains a safe message for the client (no internal
// details).
type ValidationError struct {
	// Field is the request field that failed validation.
	Field string

	// Message is a safe, client-facing error message.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
