// Package errors defines the code-based application errors shared by the
// store, the pipeline and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown           = "UNKNOWN"
	CodeDuplicateKey      = "DUPLICATE_KEY"
	CodeConstraint        = "CONSTRAINT"
	CodeTransient         = "TRANSIENT"
	CodeNotFound          = "NOT_FOUND"
	CodeValidation        = "VALIDATION"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeConfig            = "CONFIG"
	CodeShutdown          = "SHUTDOWN"
)

// Sentinels usable with errors.Is. Any Error carrying the same code matches.
var (
	ErrDuplicateKey      = &Error{code: CodeDuplicateKey}
	ErrConstraint        = &Error{code: CodeConstraint}
	ErrTransient         = &Error{code: CodeTransient}
	ErrNotFound          = &Error{code: CodeNotFound}
	ErrValidation        = &Error{code: CodeValidation}
	ErrInvalidTransition = &Error{code: CodeInvalidTransition}
	ErrConfig            = &Error{code: CodeConfig}
	ErrShutdown          = &Error{code: CodeShutdown}
)

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error represents a basic application error.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	switch {
	case e.message == "" && e.err == nil:
		return e.code
	case e.message == "":
		return e.err.Error()
	case e.err != nil:
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.code == e.code
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if it doesn't.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code string) bool {
	return errors.Is(err, &Error{code: code})
}

// New builds an application error with an explicit code.
func New(code, message string, cause error) error {
	return &Error{code: code, message: message, err: cause}
}

func NewDuplicateKeyError(message string, cause error) error {
	return New(CodeDuplicateKey, message, cause)
}

func NewConstraintError(message string, cause error) error {
	return New(CodeConstraint, message, cause)
}

// NewTransientError marks a storage failure that may succeed on retry
// (busy database, dropped connection, serialization failure).
func NewTransientError(message string, cause error) error {
	return New(CodeTransient, message, cause)
}

func NewNotFoundError(message string) error {
	return New(CodeNotFound, message, nil)
}

func NewValidationError(message string, cause error) error {
	return New(CodeValidation, message, cause)
}

func NewInvalidTransitionError(message string) error {
	return New(CodeInvalidTransition, message, nil)
}

func NewConfigError(message string, cause error) error {
	return New(CodeConfig, message, cause)
}
