// Package validation provides validation utilities shared by configuration,
// workflow files and project metadata.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

// Validator interface for self-validating values
// PRINCIPLES:
// - ISP: Simple interface with single method
// - DIP: Depend on interface, not concrete types
type Validator interface {
	Validate() error
}

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value"`
	Message string      `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Add appends an error for field.
func (e *ValidationErrors) Add(field string, value interface{}, format string, args ...interface{}) {
	*e = append(*e, ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil for an empty list, the list otherwise.
func (e ValidationErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Fields returns the names of the failing fields in order.
func Fields(err error) []string {
	var ve ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make([]string, len(ve))
	for i, e := range ve {
		out[i] = e.Field
	}
	return out
}

// ValidateAll runs Validate on every value and collects the failures.
func ValidateAll(vs ...Validator) error {
	var errs []error
	for _, v := range vs {
		if v == nil {
			continue
		}
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
