package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/vango-dev/pinus/pkg/protocol"
)

// Category represents the type of error.
type Category string

const (
	CategoryProtocol  Category = "protocol"
	CategoryHandshake Category = "handshake"
	CategorySchema    Category = "schema"
	CategoryNetwork   Category = "network"
	CategoryConfig    Category = "config"
	CategoryCLI       Category = "cli"
)

// PinusError is a structured error with a registered code and a suggestion.
type PinusError struct {
	// Code is a unique error identifier (e.g., "P003").
	Code string

	// Category is the error type (protocol, network, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *PinusError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *PinusError) Unwrap() error {
	return e.Wrapped
}

// WithSuggestion adds a fix suggestion to the error.
func (e *PinusError) WithSuggestion(s string) *PinusError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *PinusError) WithDetail(d string) *PinusError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *PinusError) Wrap(err error) *PinusError {
	e.Wrapped = err
	return e
}

// New creates a PinusError from a registered error code.
func New(code string) *PinusError {
	template, ok := registry[code]
	if !ok {
		return &PinusError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &PinusError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new PinusError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *PinusError {
	return &PinusError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError converts err into a PinusError. Protocol errors and context
// errors map to their registered codes; anything else gets fallback.
func FromError(err error, fallback string) *PinusError {
	if err == nil {
		return nil
	}
	var pe *PinusError
	if stderrors.As(err, &pe) {
		return pe
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return New(CodeTimeout).Wrap(err)
	case stderrors.Is(err, context.Canceled):
		return New(CodeCanceled).Wrap(err)
	}

	perr := rootCause(err)
	if perr == nil {
		return New(fallback).Wrap(err)
	}
	code, ok := protocolCodes[perr.Code]
	if !ok {
		code = fallback
	}
	out := New(code).Wrap(err)
	if perr.Detail != "" {
		out.Detail = perr.Detail
	}
	return out
}

// rootCause returns the innermost protocol error in err's chain.
func rootCause(err error) *protocol.Error {
	var found *protocol.Error
	for err != nil {
		if pe, ok := err.(*protocol.Error); ok {
			found = pe
		}
		err = stderrors.Unwrap(err)
	}
	return found
}
