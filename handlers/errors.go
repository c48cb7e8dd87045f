package handlers

import (
	"errors"
	"fmt"
)

// RecoverableError is an error that is explicitly marked as recoverable. Deliveries that fail with a
// recoverable error are requeued.
type RecoverableError struct {
	message string
}

// Error returns the error message for a RecoverableError.
func (e RecoverableError) Error() string {
	return e.message
}

// NewRecoverableError returns a new error that is marked as being recoverable.
func NewRecoverableError(formatString string, a ...interface{}) RecoverableError {
	return RecoverableError{message: fmt.Sprintf(formatString, a...)}
}

// UnrecoverableError is an error that we do not expect to be able to recover from. Deliveries that
// fail with an unrecoverable error are rejected without being requeued.
type UnrecoverableError struct {
	message string
}

// Error returns the error message for an UnrecoverableError.
func (e UnrecoverableError) Error() string {
	return e.message
}

// NewUnrecoverableError returns a new error that is marked as being unrecoverable.
func NewUnrecoverableError(formatString string, a ...interface{}) UnrecoverableError {
	return UnrecoverableError{message: fmt.Sprintf(formatString, a...)}
}

// Disposition describes what should happen to a delivery after it has been handled.
type Disposition int

const (
	// Ack acknowledges the delivery.
	Ack Disposition = iota

	// Requeue returns the delivery to the queue so that it can be tried again.
	Requeue

	// Reject discards the delivery.
	Reject
)

// DispositionFor returns the disposition for a delivery whose handler returned err. Errors that
// aren't explicitly marked as recoverable are treated as unrecoverable.
func DispositionFor(err error) Disposition {
	if err == nil {
		return Ack
	}
	var recoverable RecoverableError
	if errors.As(err, &recoverable) {
		return Requeue
	}
	return Reject
}
