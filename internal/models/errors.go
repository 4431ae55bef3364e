package models

import "fmt"

// ValidationError reports a missing or invalid request field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// Missing builds a ValidationError for field.
func Missing(field string) error {
	return &ValidationError{Field: field}
}
