package obstetrics

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDate is returned for malformed or logically impossible dates,
	// such as an LMP after the reference date.
	ErrInvalidDate = errors.New("invalid date")

	// ErrDuplicateActivePregnancy is returned when a case already holds an
	// ongoing pregnancy and another one is added.
	ErrDuplicateActivePregnancy = errors.New("case already has an ongoing pregnancy")

	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
)

// ValidationError describes a single rejected field. It unwraps to ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
