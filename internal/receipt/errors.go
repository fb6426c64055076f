package receipt

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrRequiredField     = errors.New("required field missing")
	ErrInvalidDateRange  = errors.New("invalid date range")
	ErrDuplicateTrip     = errors.New("duplicate trip name")
	ErrDuplicateCategory = errors.New("duplicate category")
	ErrDefaultCategory   = errors.New("default categories can't be changed")
	ErrInvalidItem       = errors.New("item index out of range")
)

// ValidationError is a rejected command. Reason is meant for display.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}
