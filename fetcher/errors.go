package fetcher

import "fmt"

// TransportError indicates that a snapshot couldn't be retrieved from the meeting source. It never
// means that the user has no meetings.
type TransportError struct {
	message string
	cause   error
}

// Error returns the error message for a TransportError.
func (e TransportError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %s", e.message, e.cause.Error())
}

// Unwrap returns the underlying error.
func (e TransportError) Unwrap() error {
	return e.cause
}

// NewTransportError returns a new TransportError wrapping the given cause, which may be nil.
func NewTransportError(cause error, formatString string, a ...interface{}) TransportError {
	return TransportError{message: fmt.Sprintf(formatString, a...), cause: cause}
}
