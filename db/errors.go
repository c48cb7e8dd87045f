package db

import "fmt"

// StorageError indicates that the durable store could not be read or written.
type StorageError struct {
	message string
	cause   error
}

// Error returns the error message for a StorageError.
func (e StorageError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %s", e.message, e.cause.Error())
}

// Unwrap returns the underlying error.
func (e StorageError) Unwrap() error {
	return e.cause
}

// NewStorageError returns a new StorageError wrapping the given cause.
func NewStorageError(cause error, formatString string, a ...interface{}) StorageError {
	return StorageError{message: fmt.Sprintf(formatString, a...), cause: cause}
}
