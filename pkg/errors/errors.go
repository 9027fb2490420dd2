package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-checkable error classification. It mirrors the
// error taxonomy of spec §7 (Channel, Protocol, Workflow, Transport,
// Timeout, Storage, Script) plus the generic HTTP-shaped codes the rest of
// the stack (storage, circuit breaker, REST client) already uses.
type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeConflict        Code = "CONFLICT"
	CodeForbidden       Code = "FORBIDDEN"
	CodeInternal        Code = "INTERNAL"
	CodeTimeout         Code = "TIMEOUT"
	CodeUnavailable     Code = "UNAVAILABLE"

	// Domain-specific codes from spec §7.
	CodeChannel  Code = "CHANNEL"
	CodeProtocol Code = "PROTOCOL"
	CodeWorkflow Code = "WORKFLOW"
	CodeTransport Code = "TRANSPORT"
	CodeStorage  Code = "STORAGE"
	CodeScript   Code = "SCRIPT"
)

// AppError is the structured error type used throughout tedge-core.
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func newErr(code Code, msg string, cause error) *AppError {
	return &AppError{Code: code, Message: msg, Cause: cause}
}

func NotFound(msg string, cause error) *AppError       { return newErr(CodeNotFound, msg, cause) }
func InvalidArgument(msg string, cause error) *AppError { return newErr(CodeInvalidArgument, msg, cause) }
func Conflict(msg string, cause error) *AppError        { return newErr(CodeConflict, msg, cause) }
func Forbidden(msg string, cause error) *AppError       { return newErr(CodeForbidden, msg, cause) }
func Internal(msg string, cause error) *AppError        { return newErr(CodeInternal, msg, cause) }
func Timeout(msg string, cause error) *AppError         { return newErr(CodeTimeout, msg, cause) }
func Unavailable(msg string, cause error) *AppError     { return newErr(CodeUnavailable, msg, cause) }

func Channel(msg string, cause error) *AppError  { return newErr(CodeChannel, msg, cause) }
func Protocol(msg string, cause error) *AppError  { return newErr(CodeProtocol, msg, cause) }
func Workflow(msg string, cause error) *AppError  { return newErr(CodeWorkflow, msg, cause) }
func Transport(msg string, cause error) *AppError { return newErr(CodeTransport, msg, cause) }
func Storage(msg string, cause error) *AppError   { return newErr(CodeStorage, msg, cause) }
func Script(msg string, cause error) *AppError    { return newErr(CodeScript, msg, cause) }

// Wrap annotates err with a message, preserving it as the Cause. Returns nil
// if err is nil. If err is already an *AppError its Code is preserved.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return newErr(app.Code, msg, err)
	}
	return newErr(CodeInternal, msg, err)
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code == code
	}
	return false
}

// GetCode extracts the Code from err, defaulting to CodeInternal.
func GetCode(err error) Code {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	return CodeInternal
}
