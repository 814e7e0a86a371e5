package errors

import (
	"fmt"
)

// Error represents a SQLSTATE-coded error raised by the transaction
// manager or its storage/WAL collaborators. Unlike the donor's
// equivalent type, there is no SQL layer here to attach a query
// position, schema/table/column name, or source routine to, so this
// Error carries only the fields this module's own error paths (a
// rejected rollback, an exhausted segment pool, a WAL write failure)
// actually populate.
type Error struct {
	Code    string // SQLSTATE code
	Message string // Primary error message
	Detail  string // Optional detailed error message
	Hint    string // Optional hint message
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (SQLSTATE %s): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code)
}

// New creates a new Error with the given code and message
func New(code string, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message
func Newf(code string, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetail adds detail to the error
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithDetailf adds formatted detail to the error
func (e *Error) WithDetailf(format string, args ...interface{}) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithHint adds a hint to the error
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithHintf adds a formatted hint to the error
func (e *Error) WithHintf(format string, args ...interface{}) *Error {
	e.Hint = fmt.Sprintf(format, args...)
	return e
}

// Common error constructors, scoped to the transaction manager's own
// error surface (protocol violations during commit/rollback,
// concurrency failures, resource exhaustion, I/O, and internal
// errors).

// InvalidTransactionStateError creates an invalid transaction state
// error, raised when Commit or Abort is called on a transaction that
// has already been finalized (LogProcessed is already true).
func InvalidTransactionStateError(message string) *Error {
	return New(TransactionRollback, message)
}

// OutOfMemoryError creates an out of memory error, raised when a
// SegmentPool cannot grow an undo or redo buffer further.
func OutOfMemoryError(context string) *Error {
	return Newf(OutOfMemory, "out of memory").
		WithDetailf("Failed on request of size in %s.", context)
}

// IOErrorf creates an I/O error.
func IOErrorf(format string, args ...interface{}) *Error {
	return Newf(IOError, format, args...)
}

// InternalErrorf creates an internal error.
func InternalErrorf(format string, args ...interface{}) *Error {
	return Newf(InternalError, format, args...)
}

// IsError checks if an error is an Error with a specific code.
func IsError(err error, code string) bool {
	if err == nil {
		return false
	}
	qErr, ok := err.(*Error)
	return ok && qErr.Code == code
}

// GetError attempts to extract an Error from any error, wrapping
// generic errors as internal errors.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if qErr, ok := err.(*Error); ok {
		return qErr
	}
	return InternalErrorf("%v", err)
}
