package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorClass buckets upstream failures by what the caller should do next.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassUnauthorized
	ClassNotFound
	ClassRateLimited
	ClassBadRequest
	ClassServerError
)

func (c ErrorClass) String() string {
	switch c {
	case ClassUnauthorized:
		return "unauthorized"
	case ClassNotFound:
		return "not_found"
	case ClassRateLimited:
		return "rate_limited"
	case ClassBadRequest:
		return "bad_request"
	case ClassServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

var (
	// ErrConfiguration marks failures caused by missing or rejected
	// credentials. They are never retried.
	ErrConfiguration = errors.New("llm: configuration error")
	// ErrNoModelAvailable is returned when every model candidate was rejected.
	ErrNoModelAvailable = errors.New("llm: no model available")
)

// Error is a classified upstream failure.
type Error struct {
	Provider   string
	Class      ErrorClass
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ClassFromStatus maps an HTTP status to an ErrorClass.
func ClassFromStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ClassUnauthorized
	case status == http.StatusNotFound:
		return ClassNotFound
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ClassBadRequest
	case status == http.StatusRequestTimeout, status >= 500:
		return ClassServerError
	default:
		return ClassUnknown
	}
}

// Classify returns the class of err. Classified errors report their own
// class; deadline expiry and network timeouts count as server errors.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Class
	}
	if errors.Is(err, ErrConfiguration) {
		return ClassUnauthorized
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassServerError
	}
	return ClassUnknown
}

// TransportError classifies an error raised before any HTTP status was seen.
func TransportError(provider string, err error) *Error {
	return &Error{Provider: provider, Class: Classify(err), Err: err}
}
