package protocol

import "fmt"

// ErrorCode identifies the class of a protocol failure.
type ErrorCode uint16

const (
	CodeUnknown             ErrorCode = 0x0000 // Unknown error
	CodeMalformedFrame      ErrorCode = 0x0001 // Package framing violation
	CodeUnexpectedFrameKind ErrorCode = 0x0002 // Text frame where binary was expected
	CodeHandshakeRejected   ErrorCode = 0x0003 // Non-success handshake or missing sys
	CodeSchemaMismatch      ErrorCode = 0x0004 // Wire type does not match descriptor
	CodeUnknownRoute        ErrorCode = 0x0005 // Route has no schema or dictionary entry
	CodeTruncatedBuffer     ErrorCode = 0x0006 // Decode ran past the end of input
	CodeHeartbeatTimeout    ErrorCode = 0x0100 // Peer stopped answering heartbeats
	CodeConnectionClosed    ErrorCode = 0x0101 // Connection closed while in use
	CodeKicked              ErrorCode = 0x0102 // Server forced a disconnect
	CodeNotConnected        ErrorCode = 0x0103 // Operation requires a working connection
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case CodeMalformedFrame:
		return "MalformedFrame"
	case CodeUnexpectedFrameKind:
		return "UnexpectedFrameKind"
	case CodeHandshakeRejected:
		return "HandshakeRejected"
	case CodeSchemaMismatch:
		return "SchemaMismatch"
	case CodeUnknownRoute:
		return "UnknownRoute"
	case CodeTruncatedBuffer:
		return "TruncatedBuffer"
	case CodeHeartbeatTimeout:
		return "HeartbeatTimeout"
	case CodeConnectionClosed:
		return "ConnectionClosed"
	case CodeKicked:
		return "Kicked"
	case CodeNotConnected:
		return "NotConnected"
	default:
		return "Unknown"
	}
}

// Fatal reports whether an error of this class leaves the connection unusable.
func (ec ErrorCode) Fatal() bool {
	switch ec {
	case CodeUnknownRoute, CodeNotConnected:
		return false
	default:
		return true
	}
}

// Error is a coded protocol error.
//
// Two errors match under errors.Is when their codes are equal, so callers
// compare against the sentinels below:
//
//	if errors.Is(err, protocol.ErrHeartbeatTimeout) { ... }
type Error struct {
	Code    ErrorCode
	Detail  string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "protocol: " + e.Code.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Errorf builds a coded error with a formatted detail.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code to an underlying error.
func WrapError(code ErrorCode, err error, detail string) *Error {
	return &Error{Code: code, Detail: detail, Wrapped: err}
}

// CodeOf extracts the code from err, or CodeUnknown when err is not coded.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			return pe.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return CodeUnknown
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}

// Sentinels for errors.Is comparisons.
var (
	ErrMalformedFrame      = &Error{Code: CodeMalformedFrame}
	ErrUnexpectedFrameKind = &Error{Code: CodeUnexpectedFrameKind}
	ErrHandshakeRejected   = &Error{Code: CodeHandshakeRejected}
	ErrSchemaMismatch      = &Error{Code: CodeSchemaMismatch}
	ErrUnknownRoute        = &Error{Code: CodeUnknownRoute}
	ErrTruncatedBuffer     = &Error{Code: CodeTruncatedBuffer}
	ErrHeartbeatTimeout    = &Error{Code: CodeHeartbeatTimeout}
	ErrConnectionClosed    = &Error{Code: CodeConnectionClosed}
	ErrKicked              = &Error{Code: CodeKicked}
	ErrNotConnected        = &Error{Code: CodeNotConnected}
)
