// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by buffers, futures, loops and channels.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an error kind. Wrapped errors compare equal to the
// sentinel carrying the same code.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeConnectionReset
	ErrCodeBindFailure
	ErrCodeConnectFailure
	ErrCodeAcceptFailure
	ErrCodeUnderflow
	ErrCodeCapacityExceeded
	ErrCodeCancelled
	ErrCodeProtocolViolation
	ErrCodeChannelClosed
	ErrCodeLoopShutdown
	ErrCodeAlreadyCompleted
	ErrCodeIllegalRefCount
	ErrCodeBlockingOnLoop
	ErrCodeUnsupportedMessage
	ErrCodeInvalidArgument
	ErrCodeNotSupported
	ErrCodeTimeout
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                 "ok",
	ErrCodeConnectionReset:    "connection reset",
	ErrCodeBindFailure:        "bind failure",
	ErrCodeConnectFailure:     "connect failure",
	ErrCodeAcceptFailure:      "accept failure",
	ErrCodeUnderflow:          "buffer underflow",
	ErrCodeCapacityExceeded:   "buffer capacity exceeded",
	ErrCodeCancelled:          "cancelled",
	ErrCodeProtocolViolation:  "protocol violation",
	ErrCodeChannelClosed:      "channel closed",
	ErrCodeLoopShutdown:       "event loop shut down",
	ErrCodeAlreadyCompleted:   "promise already completed",
	ErrCodeIllegalRefCount:    "illegal reference count",
	ErrCodeBlockingOnLoop:     "blocking operation on event loop",
	ErrCodeUnsupportedMessage: "unsupported message type",
	ErrCodeInvalidArgument:    "invalid argument",
	ErrCodeNotSupported:       "operation not supported",
	ErrCodeTimeout:            "operation timed out",
}

// String returns the human readable name of the code.
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Sentinels. Match with errors.Is; wrapped errors carry the same code.
var (
	ErrConnectionReset    = &Error{Code: ErrCodeConnectionReset}
	ErrBindFailure        = &Error{Code: ErrCodeBindFailure}
	ErrConnectFailure     = &Error{Code: ErrCodeConnectFailure}
	ErrAcceptFailure      = &Error{Code: ErrCodeAcceptFailure}
	ErrUnderflow          = &Error{Code: ErrCodeUnderflow}
	ErrCapacityExceeded   = &Error{Code: ErrCodeCapacityExceeded}
	ErrCancelled          = &Error{Code: ErrCodeCancelled}
	ErrProtocolViolation  = &Error{Code: ErrCodeProtocolViolation}
	ErrChannelClosed      = &Error{Code: ErrCodeChannelClosed}
	ErrLoopShutdown       = &Error{Code: ErrCodeLoopShutdown}
	ErrAlreadyCompleted   = &Error{Code: ErrCodeAlreadyCompleted}
	ErrIllegalRefCount    = &Error{Code: ErrCodeIllegalRefCount}
	ErrBlockingOnLoop     = &Error{Code: ErrCodeBlockingOnLoop}
	ErrUnsupportedMessage = &Error{Code: ErrCodeUnsupportedMessage}
	ErrInvalidArgument    = &Error{Code: ErrCodeInvalidArgument}
	ErrNotSupported       = &Error{Code: ErrCodeNotSupported}
	ErrTimeout            = &Error{Code: ErrCodeTimeout}
)

// Error is a structured error with a code, the failing operation, an optional
// cause and free-form context.
type Error struct {
	Code    ErrorCode
	Op      string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Context) != 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates an error of the given kind for operation op.
func NewError(code ErrorCode, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap attaches kind (one of the sentinels) and op to cause.
func Wrap(kind *Error, op string, cause error) *Error {
	return &Error{Code: kind.Code, Op: op, Err: cause}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or ErrCodeOK.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeOK
}
