package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable failure category. These are part of the
// wire contract: clients switch on them.
type Code string

const (
	SchemaInvalid      Code = "SchemaInvalid"
	SchemaNotFound     Code = "SchemaNotFound"
	InvalidReference   Code = "InvalidReference"
	KeywordTooLong     Code = "KeywordTooLong"
	InvalidFilterValue Code = "InvalidFilterValue"
	ValidationFailed   Code = "ValidationFailed"
	UniquenessConflict Code = "UniquenessConflict"
	Internal           Code = "Internal"
)

// Error is the coded error carried across every compiler boundary. Context
// holds structured detail (field paths, conflicting ids) for the response body.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a coded error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// With adds one context entry, allocating the map on first use.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the code from any error in the chain, Internal otherwise.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return Internal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a code to its HTTP-equivalent status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case SchemaNotFound:
		return http.StatusNotFound
	case UniquenessConflict:
		return http.StatusConflict
	case SchemaInvalid, InvalidReference, KeywordTooLong, InvalidFilterValue, ValidationFailed:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
