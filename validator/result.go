// Package validator implements the constraint checks applied to candidate
// solutions, split into a pre-simulation and a post-simulation phase. Both
// phases are pure functions of their inputs.
package validator

import "github.com/prerank-hq/preranker/models"

// Result collects the findings of one validation phase
type Result struct {
	Errors []models.FieldError
}

// OK reports whether the phase found no error-severity findings.
// Warnings never fail a solution.
func (r Result) OK() bool {
	for _, fieldErr := range r.Errors {
		if fieldErr.Severity == models.SeverityError {
			return false
		}
	}
	return true
}

func (r *Result) addError(field, message string) {
	r.Errors = append(r.Errors, models.FieldError{
		Field:    field,
		Message:  message,
		Severity: models.SeverityError,
	})
}

func (r *Result) addWarning(field, message string) {
	r.Errors = append(r.Errors, models.FieldError{
		Field:    field,
		Message:  message,
		Severity: models.SeverityWarning,
	})
}
