package etl

import (
	"errors"
	"fmt"
)

var (
	// ErrDoesNotExist is returned by Get when the listing is empty.
	ErrDoesNotExist = errors.New("object matching query does not exist")

	// ErrMultipleObjectsReturned is returned by Get when the listing holds
	// more than one object.
	ErrMultipleObjectsReturned = errors.New("get() returned more than one object")

	// ErrKeyNotFound is returned when a payload has no value for a field's key.
	ErrKeyNotFound = errors.New("key not found in payload")

	// ErrMissingRequiredField matches every *MissingRequiredFieldError.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrPrecondition matches every *PreconditionError.
	ErrPrecondition = errors.New("precondition violated")

	// ErrNotSupported is returned when the remote client lacks the capability
	// an operation needs.
	ErrNotSupported = errors.New("operation not supported by remote client")

	// ErrUnknownField is returned when a name is not declared in the schema.
	ErrUnknownField = errors.New("unknown field")
)

// MissingRequiredFieldError reports a required field that has neither a
// value nor a default.
type MissingRequiredFieldError struct {
	Field string
	Err   error
}

func (e *MissingRequiredFieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("missing required field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("missing required field %q", e.Field)
}

func (e *MissingRequiredFieldError) Unwrap() error { return e.Err }

func (e *MissingRequiredFieldError) Is(target error) bool {
	return target == ErrMissingRequiredField
}

// PreconditionError is a programming error: an operation was called on an
// object in the wrong lifecycle state. It is never retried.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}
