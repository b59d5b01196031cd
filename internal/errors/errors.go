// Package errors provides the coded error taxonomy returned by medvol readers.
//
// Usage:
//
//	// In readers - return typed errors
//	if !valid {
//	    return nil, errors.InvalidPathf("not a NIfTI file: %s", path)
//	}
//
//	// In callers - check with errors.Is
//	if errors.Is(err, errors.ErrInvalidSeries) {
//	    ...
//	}
//
//	// Or switch on the Code
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeDecode:
//	    case errors.CodeMetadata:
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the loader.
const (
	CodeInvalidInput             Code = "INVALID_INPUT"
	CodeInvalidPath              Code = "INVALID_PATH"
	CodeInvalidSeries            Code = "INVALID_SERIES"
	CodeDecode                   Code = "DECODE"
	CodeReconstruction           Code = "RECONSTRUCTION"
	CodeMetadata                 Code = "METADATA"
	CodeInvalidNormalizationKind Code = "INVALID_NORMALIZATION_KIND"
)

// ExitCode maps an error code to a process exit status for the CLI.
func (c Code) ExitCode() int {
	switch c {
	case CodeInvalidInput, CodeInvalidNormalizationKind:
		return 2
	case CodeInvalidPath, CodeInvalidSeries:
		return 3
	case CodeDecode, CodeReconstruction, CodeMetadata:
		return 4
	default:
		return 1
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrInvalidInput             = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrInvalidPath              = &Error{Code: CodeInvalidPath, Message: "invalid path"}
	ErrInvalidSeries            = &Error{Code: CodeInvalidSeries, Message: "invalid series"}
	ErrDecode                   = &Error{Code: CodeDecode, Message: "decode failed"}
	ErrReconstruction           = &Error{Code: CodeReconstruction, Message: "reconstruction failed"}
	ErrMetadata                 = &Error{Code: CodeMetadata, Message: "missing metadata"}
	ErrInvalidNormalizationKind = &Error{Code: CodeInvalidNormalizationKind, Message: "invalid normalization kind"}
)

// Constructor functions for creating errors with custom messages.

// InvalidInput creates an invalid input error.
func InvalidInput(msg string) *Error {
	return &Error{Code: CodeInvalidInput, Message: msg}
}

// InvalidInputf creates an invalid input error with a formatted message.
func InvalidInputf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InvalidPathf creates an invalid path error with a formatted message.
func InvalidPathf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidPath, Message: fmt.Sprintf(format, args...)}
}

// InvalidSeriesf creates an invalid series error with a formatted message.
func InvalidSeriesf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidSeries, Message: fmt.Sprintf(format, args...)}
}

// Decodef creates a decode error with a formatted message.
func Decodef(format string, args ...any) *Error {
	return &Error{Code: CodeDecode, Message: fmt.Sprintf(format, args...)}
}

// Reconstructionf creates a reconstruction error with a formatted message.
func Reconstructionf(format string, args ...any) *Error {
	return &Error{Code: CodeReconstruction, Message: fmt.Sprintf(format, args...)}
}

// Metadataf creates a metadata error with a formatted message.
func Metadataf(format string, args ...any) *Error {
	return &Error{Code: CodeMetadata, Message: fmt.Sprintf(format, args...)}
}

// InvalidNormalizationKind creates an error for an unknown normalization kind.
func InvalidNormalizationKind(kind string) *Error {
	return &Error{
		Code:    CodeInvalidNormalizationKind,
		Message: fmt.Sprintf("unknown normalization kind %q", kind),
		Details: map[string]string{"kind": kind},
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}
