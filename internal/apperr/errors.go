// Package apperr defines the error taxonomy shared by every shiftsync component.
//
// Expected outcomes (a second clock-in, an overlapping category, a malformed
// queue entry) are returned as *Error values carrying a Code. Callers branch on
// the code with Is or CodeOf; the HTTP and CLI layers translate codes into
// status codes and exit codes. Unexpected infrastructure failures are plain
// wrapped errors and surface as CodeInternal.
package apperr

import (
	"errors"
	"fmt"
)

// Code categorizes an error.
type Code string

const (
	// CodeValidation: bad shape or range, rejected before any write.
	CodeValidation Code = "VALIDATION"

	// CodeAlreadyClockedIn: the employee already has an open shift.
	CodeAlreadyClockedIn Code = "ALREADY_CLOCKED_IN"

	// CodeNotClockedIn: clock-out without an open shift.
	CodeNotClockedIn Code = "NOT_CLOCKED_IN"

	// CodeNotFound: the referenced row does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeDuplicate: a unique constraint would be violated.
	CodeDuplicate Code = "DUPLICATE"

	// CodeCategoryConflict: a time category overlaps another active category.
	CodeCategoryConflict Code = "CATEGORY_CONFLICT"

	// CodeForbidden: the actor's role does not allow the operation.
	CodeForbidden Code = "FORBIDDEN"

	// CodeSyncTransient: store or network unavailable; the write is retried later.
	CodeSyncTransient Code = "SYNC_TRANSIENT"

	// CodeSyncPermanent: the queued entry can never succeed; no retries.
	CodeSyncPermanent Code = "SYNC_PERMANENT"

	// CodeInternal is reported for errors that carry no code.
	CodeInternal Code = "INTERNAL"
)

// Error is a coded domain error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Field names the offending input field, when there is one.
	Field string

	// Details carries additional structured context.
	Details map[string]string

	// Err is the underlying cause (optional).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail returns e after recording a detail key.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first *Error in err's chain,
// or CodeInternal when there is none.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
// Uses errors.As to handle wrapped errors.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// Validation creates a CodeValidation error for a field.
func Validation(field, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// AlreadyClockedIn reports an existing open shift.
func AlreadyClockedIn(employeeID, recordID string) *Error {
	return &Error{
		Code:    CodeAlreadyClockedIn,
		Message: fmt.Sprintf("employee %s already has an open shift", employeeID),
		Details: map[string]string{"employee_id": employeeID, "record_id": recordID},
	}
}

// NotClockedIn reports a clock-out without an open shift.
func NotClockedIn(employeeID string) *Error {
	return &Error{
		Code:    CodeNotClockedIn,
		Message: fmt.Sprintf("employee %s is not clocked in", employeeID),
		Details: map[string]string{"employee_id": employeeID},
	}
}

// NotFound reports a missing row.
func NotFound(kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", kind, id),
		Details: map[string]string{"kind": kind, "id": id},
	}
}

// Duplicate reports a unique constraint violation.
func Duplicate(kind, key string) *Error {
	return &Error{
		Code:    CodeDuplicate,
		Message: fmt.Sprintf("%s %s already exists", kind, key),
		Details: map[string]string{"kind": kind, "key": key},
	}
}

// Forbidden reports an authorization failure.
func Forbidden(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps an infrastructure failure that should be retried.
func Transient(op string, err error) *Error {
	return &Error{Code: CodeSyncTransient, Message: op, Err: err}
}

// Permanent wraps a failure that retrying cannot fix.
func Permanent(op string, err error) *Error {
	return &Error{Code: CodeSyncPermanent, Message: op, Err: err}
}
