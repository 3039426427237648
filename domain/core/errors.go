package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound            = errors.New("resource not found")
	ErrHypothesisNotFound  = fmt.Errorf("%w: hypothesis", ErrNotFound)
	ErrSessionTestNotFound = fmt.Errorf("%w: session test", ErrNotFound)

	// Validation errors
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrValidation)

	// Mutation attempted on a locked hypothesis
	ErrImmutableState = errors.New("immutable state")

	// Unknown correction method or spending function
	ErrUnsupportedMethod = errors.New("unsupported method")

	// Numeric kernel called outside its valid domain
	ErrDomain = errors.New("numeric domain error")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w for %s: %s", ErrValidation, field, reason)
}

func NewImmutableStateError(resource, id string) error {
	return fmt.Errorf("%w: %s %s is locked", ErrImmutableState, resource, id)
}

func NewUnsupportedMethodError(kind, name string) error {
	return fmt.Errorf("%w: unknown %s %q", ErrUnsupportedMethod, kind, name)
}

func NewDomainError(fn string, value float64) error {
	return fmt.Errorf("%w: %s undefined at %v", ErrDomain, fn, value)
}

func NewTransitionError(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsImmutableStateError(err error) bool {
	return errors.Is(err, ErrImmutableState)
}

func IsUnsupportedMethodError(err error) bool {
	return errors.Is(err, ErrUnsupportedMethod)
}

func IsDomainError(err error) bool {
	return errors.Is(err, ErrDomain)
}
