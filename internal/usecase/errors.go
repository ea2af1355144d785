package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorConflict     ErrorCode = "CONFLICT"
	ErrorRateLimited  ErrorCode = "RATE_LIMITED"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

// Error is returned by every ChatService operation. Reason is a stable
// snake_case tag safe to show to clients; Err carries the cause.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// AsError extracts the use case error from err. Anything else is reported
// as an internal failure with reason "unexpected".
func AsError(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) && ue != nil {
		return ue
	}
	return newError(ErrorInternal, "unexpected", err)
}
