// Package ybox holds the small set of coded error values shared across every
// other package, plus the stack-carrying wrap helper used at the point an
// OS/subprocess error first surfaces.
package ybox

import (
	"fmt"

	"github.com/go-errors/errors"
	"golang.org/x/xerrors"
)

// ErrorCode classifies failures the way spec's error-handling design (§7)
// enumerates them, so callers at the CLI boundary can pick an exit code
// without string-matching messages.
type ErrorCode int

const (
	// CodeValidation covers malformed input: bad container names, unknown
	// profile sections/keys, unsupported distributions, conflicting flags.
	CodeValidation ErrorCode = iota + 1
	// CodeNotFound covers missing config files and missing state rows.
	CodeNotFound
	// CodeRuntime covers a non-zero exit from the container runtime.
	CodeRuntime
	// CodeLockTimeout covers a file-lock acquisition timeout.
	CodeLockTimeout
	// CodeDatabaseIntegrity covers duplicate-key and similar store errors.
	CodeDatabaseIntegrity
)

// CodedError is an error that carries one of the ErrorCode values above,
// adapted from the teacher's ComplexError (itself adapted from
// https://medium.com/yakka/better-go-error-handling-with-xerrors-1987650e0c79).
type CodedError struct {
	Message string
	Code    ErrorCode
	frame   xerrors.Frame
}

// NewCodedError builds a CodedError capturing the call-site frame.
func NewCodedError(code ErrorCode, message string) error {
	return CodedError{Message: message, Code: code, frame: xerrors.Caller(1)}
}

// FormatError implements xerrors.Formatter.
func (ce CodedError) FormatError(p xerrors.Printer) error {
	p.Printf("%s", ce.Message)
	ce.frame.Format(p)
	return nil
}

// Format implements fmt.Formatter.
func (ce CodedError) Format(f fmt.State, c rune) {
	xerrors.FormatError(ce, f, c)
}

func (ce CodedError) Error() string {
	return fmt.Sprint(ce)
}

// HasCode reports whether err (or something it wraps) is a CodedError with
// the given code.
func HasCode(err error, code ErrorCode) bool {
	var ce CodedError
	if xerrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Wrap attaches a stack trace to err for display at the top level, mirroring
// the teacher's WrapError. Returns nil unchanged.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, 0)
}

// Validation builds a CodeValidation error.
func Validation(format string, args ...any) error {
	return NewCodedError(CodeValidation, fmt.Sprintf(format, args...))
}

// NotFound builds a CodeNotFound error.
func NotFound(format string, args ...any) error {
	return NewCodedError(CodeNotFound, fmt.Sprintf(format, args...))
}

// Runtime builds a CodeRuntime error.
func Runtime(format string, args ...any) error {
	return NewCodedError(CodeRuntime, fmt.Sprintf(format, args...))
}

// LockTimeout builds a CodeLockTimeout error.
func LockTimeout(format string, args ...any) error {
	return NewCodedError(CodeLockTimeout, fmt.Sprintf(format, args...))
}

// DatabaseIntegrity builds a CodeDatabaseIntegrity error.
func DatabaseIntegrity(format string, args ...any) error {
	return NewCodedError(CodeDatabaseIntegrity, fmt.Sprintf(format, args...))
}

// ExitCode maps a CodedError to the process exit code from spec §6/§7.
// Unrecognized errors (including nil) default to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce CodedError
	if xerrors.As(err, &ce) {
		switch ce.Code {
		case CodeRuntime:
			return 1
		case CodeValidation, CodeNotFound, CodeLockTimeout, CodeDatabaseIntegrity:
			return 1
		}
	}
	return 1
}
