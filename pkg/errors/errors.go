// Package errors carries a machine readable Code alongside the usual error
// chain. The code decides the HTTP status and how much of the error a client
// gets to see.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

type exposure uint8

const (
	// hidden errors answer with the fallback text only.
	hidden exposure = iota
	// message errors show the message they were created with.
	message
	// detailed errors also carry their details.
	detailed
)

type codeInfo struct {
	status    int
	fallback  string
	exposure  exposure
	retryable bool
}

var codes = map[Code]codeInfo{
	CodeValidation:    {http.StatusBadRequest, "validation failed", detailed, false},
	CodeUnauthorized:  {http.StatusUnauthorized, "authentication required", message, false},
	CodeForbidden:     {http.StatusForbidden, "access denied", message, false},
	CodeNotFound:      {http.StatusNotFound, "resource not found", message, false},
	CodeConflict:      {http.StatusConflict, "conflict detected", message, false},
	CodeStateConflict: {http.StatusUnprocessableEntity, "state transition disallowed", detailed, false},
	CodeIdempotency:   {http.StatusConflict, "idempotency key reused", detailed, false},
	CodeRateLimit:     {http.StatusTooManyRequests, "rate limit exceeded", message, false},
	CodeInternal:      {http.StatusInternalServerError, "internal server error", hidden, true},
	CodeDependency:    {http.StatusServiceUnavailable, "dependency unavailable", hidden, true},
}

func (c Code) info() codeInfo {
	if s, ok := codes[c]; ok {
		return s
	}
	return codes[CodeInternal]
}

// Status is the HTTP status the code is answered with. Unknown codes are
// treated as internal errors.
func (c Code) Status() int { return c.info().status }

// Retryable reports whether repeating the same request may succeed.
func (c Code) Retryable() bool { return c.info().retryable }

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, msg string) *Error {
	return &Error{code: code, message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and msg to err. A nil err yields a plain New.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{code: code, message: msg, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

// Public returns the message and details a client may see.
func (e *Error) Public() (string, any) {
	s := e.Code().info()
	msg := s.fallback
	if s.exposure >= message && e.Message() != "" {
		msg = e.Message()
	}
	if s.exposure == detailed {
		return msg, e.Details()
	}
	return msg, nil
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return string(e.code) + ": " + e.message
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the first typed error in the chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf reports CodeInternal for untyped errors.
func CodeOf(err error) Code {
	return As(err).Code()
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
