package ir

import (
	"errors"
)

// ErrorCode categorizes rejected transitions.
type ErrorCode string

const (
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeAlreadyExists      ErrorCode = "ALREADY_EXISTS"
	CodeInvalidRole        ErrorCode = "INVALID_ROLE"
	CodeURITooLong         ErrorCode = "URI_TOO_LONG"
	CodeEventCountOverflow ErrorCode = "EVENT_COUNT_OVERFLOW"
	CodeAlreadyApproved    ErrorCode = "ALREADY_APPROVED"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeNotApprover        ErrorCode = "NOT_APPROVER"
	CodeInvalidHash        ErrorCode = "INVALID_HASH"
	CodeRequiresApproval   ErrorCode = "REQUIRES_APPROVAL"
)

// Error is a non-retryable rejection. Every rejection happens before any
// record field is mutated, so a caller holding an *Error also holds the
// unchanged record.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Sentinel errors. Compare with errors.Is; layers wrap them with %w.
var (
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "unauthorized: only the owner can modify this record"}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists, Message: "record already exists for this incident"}
	ErrInvalidRole        = &Error{Code: CodeInvalidRole, Message: "invalid owner role"}
	ErrURITooLong         = &Error{Code: CodeURITooLong, Message: "packet uri too long"}
	ErrEventCountOverflow = &Error{Code: CodeEventCountOverflow, Message: "event count overflow"}
	ErrAlreadyApproved    = &Error{Code: CodeAlreadyApproved, Message: "record is already approved"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "record not found"}
	ErrNotApprover        = &Error{Code: CodeNotApprover, Message: "caller may not approve records"}
	ErrInvalidHash        = &Error{Code: CodeInvalidHash, Message: "invalid hash"}
	ErrRequiresApproval   = &Error{Code: CodeRequiresApproval, Message: "record requires approval"}
)

// CodeOf returns the ErrorCode carried by err, or "" if err is not a rejection.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
