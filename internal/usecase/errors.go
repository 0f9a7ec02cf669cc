package usecase

import "errors"

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorUnavailable  ErrorCode = "UNAVAILABLE"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

// Error is returned by ChatService. Reason is a stable snake_case tag for
// logs and user-facing copy; Err stays inside the process.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "usecase: " + string(e.Code) + "/" + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CodeOf reports the code carried by err. Errors from outside this package
// are INTERNAL_ERROR; nil has no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
