package tools

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an operation failed.
type ErrorKind string

const (
	KindContainment     ErrorKind = "containment_violation"
	KindNotFound        ErrorKind = "not_found"
	KindIO              ErrorKind = "io_failure"
	KindPolicy          ErrorKind = "policy_rejection"
	KindTimeout         ErrorKind = "timeout_exceeded"
	KindSpawn           ErrorKind = "spawn_failure"
	KindUnknownOp       ErrorKind = "unknown_operation"
	KindInvalidArgument ErrorKind = "argument_mismatch"
	KindNonZeroExit     ErrorKind = "non_zero_exit"
	KindInternal        ErrorKind = "internal"
)

// Error is the failure type returned by every tool.
// Msg is the complete user-facing message; Err, when set, is appended as the cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error with a formatted message and an optional cause.
func NewError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf reports the kind carried by err, or KindInternal.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}
