package apperrors

import (
	"errors"
	"fmt"
)

// FieldError points at the request field that failed validation.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is a client-correctable input error (4xx).
type ValidationError struct {
	Msg    string
	Fields []FieldError
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidation builds a validation error with optional field details.
func NewValidation(msg string, fields ...FieldError) error {
	return &ValidationError{Msg: msg, Fields: fields}
}

// NotFoundError marks a missing stream, timetable or record.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

func NewNotFound(format string, args ...any) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// ForbiddenError marks an access-control rejection.
type ForbiddenError struct {
	Msg string
}

func (e *ForbiddenError) Error() string { return e.Msg }

func NewForbidden(format string, args ...any) error {
	return &ForbiddenError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}
