// Package domain provides the failure records, error taxonomy and route
// metadata shared by the pipeline, the runtime and routing collaborators.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Startup, pool and listener conditions. Match them with errors.Is.
var (
	// ErrConfig marks malformed startup configuration. Fatal at startup.
	ErrConfig = errors.New("invalid configuration")

	// ErrPoolExhausted is returned when no connection became available
	// within the pool's acquisition timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrPoolClosed is returned when an acquisition is attempted after
	// shutdown of the pool began.
	ErrPoolClosed = errors.New("connection pool closed")

	// ErrListenerBind marks a listener that could not be bound. Fatal at startup.
	ErrListenerBind = errors.New("listener bind failed")
)

// DefaultMessage is the message used when a failure carries none.
const DefaultMessage = "Internal Server Error"

// Failure is the normalized (status, message) record produced by any
// pipeline stage and consumed by the terminal error handler.
type Failure struct {
	// StatusCode is the HTTP status reported to the client.
	StatusCode int

	// Message is the client-visible message.
	Message string

	// Err is the underlying cause. It is logged, never sent to the client.
	Err error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f == nil {
		return DefaultMessage
	}
	if f.Err != nil {
		return fmt.Sprintf("%d %s: %v", f.StatusCode, f.Message, f.Err)
	}
	return fmt.Sprintf("%d %s", f.StatusCode, f.Message)
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// HTTPStatusCode returns the status code, falling back to 500 when the
// record carries a value outside the valid HTTP range.
func (f *Failure) HTTPStatusCode() int {
	if f == nil || !validStatus(f.StatusCode) {
		return http.StatusInternalServerError
	}
	return f.StatusCode
}

// WithCause attaches the underlying error.
func (f *Failure) WithCause(err error) *Failure {
	f.Err = err
	return f
}

// NewFailure creates a failure with an explicit status and message.
func NewFailure(statusCode int, message string) *Failure {
	return &Failure{StatusCode: statusCode, Message: message}
}

// Wrap creates a failure carrying err as its cause.
func Wrap(statusCode int, message string, err error) *Failure {
	return &Failure{StatusCode: statusCode, Message: message, Err: err}
}

// NotFound creates a 404 failure. An empty message becomes "Not Found".
func NotFound(message string) *Failure {
	if message == "" {
		message = http.StatusText(http.StatusNotFound)
	}
	return NewFailure(http.StatusNotFound, message)
}

// BadRequest creates a 400 failure.
func BadRequest(message string) *Failure {
	if message == "" {
		message = http.StatusText(http.StatusBadRequest)
	}
	return NewFailure(http.StatusBadRequest, message)
}

// MethodNotAllowed creates a 405 failure.
func MethodNotAllowed() *Failure {
	return NewFailure(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
}

// Internal wraps err as a 500 failure with the generic message.
func Internal(err error) *Failure {
	return Wrap(http.StatusInternalServerError, DefaultMessage, err)
}

// statusCoder is satisfied by errors that know their HTTP status.
type statusCoder interface {
	HTTPStatusCode() int
}

// ToFailure resolves any error into a well-formed failure. It never returns nil.
//
// Resolution order: an explicit *Failure keeps its status and message, pool
// conditions become 503, errors exposing HTTPStatusCode keep that status, and
// everything else becomes a 500 with DefaultMessage. A missing message is
// filled from the status text, then from DefaultMessage.
func ToFailure(err error) *Failure {
	if err == nil {
		return Internal(errors.New("nil failure reached the error handler"))
	}

	var f *Failure
	if errors.As(err, &f) {
		if f == nil {
			// A nil *Failure stored in an error interface.
			return Internal(errors.New("nil *Failure returned as error"))
		}
		return normalize(f.StatusCode, f.Message, f.Err)
	}

	if errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrPoolClosed) {
		return Wrap(http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), err)
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return normalize(sc.HTTPStatusCode(), "", err)
	}

	return Internal(err)
}

func normalize(status int, message string, cause error) *Failure {
	if !validStatus(status) {
		status = http.StatusInternalServerError
	}
	if message == "" {
		message = http.StatusText(status)
	}
	if message == "" {
		message = DefaultMessage
	}
	return &Failure{StatusCode: status, Message: message, Err: cause}
}

// validStatus accepts final status codes only; an informational status
// cannot carry the JSON body.
func validStatus(code int) bool {
	return code >= 200 && code <= 999
}
