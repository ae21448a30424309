// Package errs defines the error taxonomy for the decision pipeline.
// The four classes carry different recovery semantics: validation errors
// reject one signal, external-unavailable substitutes a neutral default,
// constraint violations block without retry, invariant violations are
// upstream contract bugs and must fail loudly.
package errs

import "fmt"

// ValidationError marks a malformed signal or score. Only the offending
// signal is rejected; the batch continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for one field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ExternalUnavailable marks a collaborator timeout or failure. Callers
// substitute the documented neutral default and continue.
type ExternalUnavailable struct {
	Collaborator string
	Err          error
}

func (e *ExternalUnavailable) Error() string {
	return fmt.Sprintf("external %s unavailable: %v", e.Collaborator, e.Err)
}

func (e *ExternalUnavailable) Unwrap() error { return e.Err }

// Unavailable wraps a collaborator failure.
func Unavailable(collaborator string, err error) error {
	return &ExternalUnavailable{Collaborator: collaborator, Err: err}
}

// ConstraintViolation marks a capital/cooldown/concurrency breach. The
// position is blocked with a reason and never retried.
type ConstraintViolation struct {
	Constraint string
	Detail     string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint %s: %s", e.Constraint, e.Detail)
}

// Constraint builds a ConstraintViolation.
func Constraint(name, detail string) error {
	return &ConstraintViolation{Constraint: name, Detail: detail}
}

// InvariantViolation marks an upstream contract bug: a score outside
// [0,100], an unknown gate status. Never silently repaired.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

// Invariant builds an InvariantViolation.
func Invariant(name, detail string) error {
	return &InvariantViolation{Invariant: name, Detail: detail}
}
