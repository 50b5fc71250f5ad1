package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorType classifies transport failures
type ErrorType int

const (
	// NetworkError is a connection-level failure: nothing was received
	NetworkError ErrorType = iota
	// TimeoutError is a request that exceeded its deadline
	TimeoutError
	// HTTPError is a response that was received but carries a failure status
	HTTPError
	// ValidationError is a request that could not be built
	ValidationError
	// InterceptorError is a failure raised by a request or response interceptor
	InterceptorError
)

func (t ErrorType) String() string {
	switch t {
	case NetworkError:
		return "network error"
	case TimeoutError:
		return "timeout error"
	case HTTPError:
		return "HTTP error"
	case ValidationError:
		return "validation error"
	case InterceptorError:
		return "interceptor error"
	default:
		return "unknown error"
	}
}

// ClientError is implemented by every error produced by this package
type ClientError interface {
	error
	Type() ErrorType
}

// Error is the concrete ClientError. Only the fields relevant to its type are set.
type Error struct {
	kind       ErrorType
	message    string
	cause      error
	timeout    time.Duration
	statusCode int
	body       []byte
	field      string
	stage      string
}

var _ ClientError = (*Error)(nil)

// NewNetworkError creates a connection-level error
func NewNetworkError(message string, cause error) *Error {
	return &Error{kind: NetworkError, message: message, cause: cause}
}

// NewTimeoutError creates a deadline error
func NewTimeoutError(message string, timeout time.Duration) *Error {
	return &Error{kind: TimeoutError, message: message, timeout: timeout}
}

// NewHTTPError creates an error for a received failure status
func NewHTTPError(message string, statusCode int, body []byte) *Error {
	return &Error{kind: HTTPError, message: message, statusCode: statusCode, body: body}
}

// NewValidationError creates an error for a request that could not be built
func NewValidationError(message, field string) *Error {
	return &Error{kind: ValidationError, message: message, field: field}
}

// NewInterceptorError creates an error raised at the given interceptor stage
func NewInterceptorError(message, stage string, cause error) *Error {
	return &Error{kind: InterceptorError, message: message, stage: stage, cause: cause}
}

func (e *Error) Type() ErrorType { return e.kind }

func (e *Error) Unwrap() error { return e.cause }

// StatusCode returns the response status of an HTTPError, 0 otherwise
func (e *Error) StatusCode() int { return e.statusCode }

// Body returns the response body of an HTTPError
func (e *Error) Body() []byte { return e.body }

func (e *Error) Error() string {
	msg := e.kind.String() + ": " + e.message
	switch e.kind {
	case TimeoutError:
		if e.timeout > 0 {
			msg = fmt.Sprintf("%s (after %s)", msg, e.timeout)
		}
	case HTTPError:
		msg = fmt.Sprintf("%s (status %d)", msg, e.statusCode)
	case ValidationError:
		if e.field != "" {
			msg = fmt.Sprintf("%s (field %s)", msg, e.field)
		}
	case InterceptorError:
		if e.stage != "" {
			msg = fmt.Sprintf("%s (stage %s)", msg, e.stage)
		}
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// IsErrorType reports whether err, or any error it wraps, is a ClientError of type t
func IsErrorType(err error, t ErrorType) bool {
	var ce ClientError
	if errors.As(err, &ce) {
		return ce.Type() == t
	}
	return false
}

// IsHTTPStatusError reports whether err is an HTTPError with the given status
func IsHTTPStatusError(err error, statusCode int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == HTTPError && e.statusCode == statusCode
	}
	return false
}

// classifyTransportError maps an error returned by http.Client.Do to a ClientError.
func classifyTransportError(ctx context.Context, err error, timeout time.Duration) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewTimeoutError("request deadline exceeded", timeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError("request timed out", timeout)
	}
	return NewNetworkError("request failed", err)
}
