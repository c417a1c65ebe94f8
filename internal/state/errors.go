package state

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes state errors.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates an operation that requires a reactive
	// object received something else.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeObserverFailure indicates an observer panicked during dispatch.
	ErrCodeObserverFailure ErrorCode = "OBSERVER_FAILURE"
)

// Error is a structured error returned or reported by the engine.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operation that failed (e.g. "Observe").
	Op string

	// Message is a human-readable description.
	Message string

	// ObjectID identifies the object being flushed (observer failures only).
	ObjectID int64

	// Recovered is the panic value for observer failures.
	Recovered any

	// Stack is the goroutine stack captured at recovery time.
	Stack string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code == ErrCodeObserverFailure {
		return fmt.Sprintf("%s: %s: object=%d: %v", e.Code, e.Op, e.ObjectID, e.Recovered)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsInvalidArgument reports whether err is an INVALID_ARGUMENT error.
// Uses errors.As to handle wrapped errors.
func IsInvalidArgument(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == ErrCodeInvalidArgument
	}
	return false
}

// IsObserverFailure reports whether err is, or joins, an OBSERVER_FAILURE.
func IsObserverFailure(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == ErrCodeObserverFailure
	}
	return false
}

// ObserverFailures unpacks the individual observer failures from an error
// produced by a flush pass.
func ObserverFailures(err error) []*Error {
	if err == nil {
		return nil
	}
	var out []*Error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, ObserverFailures(e)...)
		}
		return out
	}
	var se *Error
	if errors.As(err, &se) && se.Code == ErrCodeObserverFailure {
		out = append(out, se)
	}
	return out
}

func newInvalidArgument(op string, v any) *Error {
	return &Error{
		Code:    ErrCodeInvalidArgument,
		Op:      op,
		Message: fmt.Sprintf("not a reactive object: %T", v),
	}
}
