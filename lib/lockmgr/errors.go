package lockmgr

import (
	"errors"
	"fmt"
)

// Code classifies a coordinator error
type Code string

const (
	CodeLockNotFound        Code = "LockNotFound"
	CodeInvalidTransition   Code = "InvalidTransition"
	CodeAlreadyQueued       Code = "AlreadyQueued"
	CodeAuthorizationDenied Code = "AuthorizationDenied"
	CodeSessionNotFound     Code = "SessionNotFound"
	CodeCoordinatorClosed   Code = "CoordinatorClosed"
	CodeInternal            Code = "Internal"
)

// Error is returned by all coordinator operations.
// Two errors match with errors.Is when their codes are equal.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// sentinel errors usable with errors.Is
var (
	ErrLockNotFound        = &Error{Code: CodeLockNotFound}
	ErrInvalidTransition   = &Error{Code: CodeInvalidTransition}
	ErrAuthorizationDenied = &Error{Code: CodeAuthorizationDenied}
	ErrSessionNotFound     = &Error{Code: CodeSessionNotFound}
	ErrCoordinatorClosed   = &Error{Code: CodeCoordinatorClosed, Msg: "coordinator is closed"}
)

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of err, or CodeInternal if err is not a coordinator error
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
