package guardfile

import (
	"errors"
	"fmt"
)

// Common engine errors
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
	ErrInvalidPolicy        = errors.New("invalid policy")
	ErrReadFailed           = errors.New("input unreadable")
	ErrStoreClosed          = errors.New("audit store closed")
	ErrNoInput              = errors.New("no byte source")
)

// PolicyError records a policy defect and the rule and field that caused it
type PolicyError struct {
	Rule  string
	Field string
	Err   error
}

// Error implements the error interface
func (e *PolicyError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("policy %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("rule %q %s: %v", e.Rule, e.Field, e.Err)
}

// Unwrap returns the underlying error
func (e *PolicyError) Unwrap() error {
	return e.Err
}

// InputError records an error and the operation and input name that caused it
type InputError struct {
	Op   string
	Name string
	Err  error
}

// Error implements the error interface
func (e *InputError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

// Unwrap returns the underlying error
func (e *InputError) Unwrap() error {
	return e.Err
}

// IsInvalidPolicy reports whether an error indicates a policy document that
// failed validation
func IsInvalidPolicy(err error) bool {
	return errors.Is(err, ErrInvalidPolicy)
}

// IsUnsupportedAlgorithm reports whether an error indicates an unknown
// digest algorithm
func IsUnsupportedAlgorithm(err error) bool {
	return errors.Is(err, ErrUnsupportedAlgorithm)
}
