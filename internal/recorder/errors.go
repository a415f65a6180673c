package recorder

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of recorder failure.
type ErrorCode string

// ErrorCode constants for recorder errors. All except STORAGE_FAILURE are
// contract violations by the calling producer and poison only that
// connection; STORAGE_FAILURE means a durable write did not complete and is
// fatal for the whole recording run.
const (
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrDuplicateStream  ErrorCode = "DUPLICATE_STREAM"
	ErrUnknownStream    ErrorCode = "UNKNOWN_STREAM"
	ErrAlreadyRecorded  ErrorCode = "ALREADY_RECORDED"
	ErrInvalidMedia     ErrorCode = "INVALID_MEDIA"
	ErrConnectionClosed ErrorCode = "CONNECTION_CLOSED"
	ErrStorageFailure   ErrorCode = "STORAGE_FAILURE"
)

// Error represents an error in the recorder package.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HasCode reports whether err is (or wraps) a recorder Error with the given
// code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func storageError(cause error, format string, args ...any) *Error {
	return &Error{Code: ErrStorageFailure, Message: fmt.Sprintf(format, args...), Cause: cause}
}
