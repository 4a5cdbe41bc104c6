package shared

import "fmt"

// ValidationError reports a rejected input, keyed by the offending field.
type ValidationError struct {
	Field  string
	Reason string
	// Details carries structured hints for the caller, such as a suggested
	// minimum installment.
	Details map[string]any
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError without details.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
