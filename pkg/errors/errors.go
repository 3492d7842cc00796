package errors

import (
	"errors"
	"fmt"
)

// Collection pipeline error taxonomy
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrAuthInvalid  = errors.New("credential invalid")
	ErrRateLimited  = errors.New("rate limited")
	ErrTransient    = errors.New("transient failure")
	ErrLockConflict = errors.New("lock conflict")
	ErrPersistence  = errors.New("persistence failure")
)

// Error represents a custom error type
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new error with a message
func New(message string) error {
	return &Error{
		Message: message,
	}
}

// Wrap wraps an error with additional message
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapWithCode wraps an error with a code and message
func WrapWithCode(err error, code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// GetCode returns the error code if it exists
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetMessage returns the error message
func GetMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }
func IsAuthInvalid(err error) bool  { return errors.Is(err, ErrAuthInvalid) }
func IsRateLimited(err error) bool  { return errors.Is(err, ErrRateLimited) }
func IsTransient(err error) bool    { return errors.Is(err, ErrTransient) }
func IsLockConflict(err error) bool { return errors.Is(err, ErrLockConflict) }
func IsPersistence(err error) bool  { return errors.Is(err, ErrPersistence) }
