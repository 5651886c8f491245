// Package errdef defines the stable error vocabulary of the service.
//
// Every failure that crosses a component boundary maps to one of the codes
// below. Codes are wire-stable: they appear verbatim in HTTP error envelopes
// and in logs, and clients are expected to switch on them. Sentinel errors
// carry the code through Go error chains; use errors.Is against the sentinel
// or CodeOf to recover the registry value.
package errdef

import (
	"errors"
	"fmt"
)

// Code is a stable registry value surfaced in error envelopes.
type Code string

// System codes.
const (
	CodeInternal            Code = "INTERNAL_SERVER_ERROR"
	CodeNotImplemented      Code = "NOT_IMPLEMENTED"
	CodeServiceInitializing Code = "SERVICE_INITIALIZING"
	CodeServiceInitFailed   Code = "SERVICE_INITIALIZATION_FAILED"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
)

// Auth codes.
const (
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeInvalidAPIKey Code = "INVALID_API_KEY"
	CodeDemoMode      Code = "DEMO_MODE_RESTRICTION"
	CodeRateLimited   Code = "RATE_LIMITED"
)

// License codes.
const (
	CodeLicenseNotFound  Code = "LICENSE_NOT_FOUND"
	CodeLicenseExpired   Code = "LICENSE_EXPIRED"
	CodeLicenseInvalid   Code = "LICENSE_INVALID"
	CodeLicenseRevoked   Code = "LICENSE_REVOKED"
	CodeSeatLimitReached Code = "SEAT_LIMIT_REACHED"
)

// Document codes.
const (
	CodeDocumentNotFound Code = "DOCUMENT_NOT_FOUND"
	CodeUnsupportedFmt   Code = "UNSUPPORTED_FORMAT"
	CodeProcessingFailed Code = "DOCUMENT_PROCESSING_FAILED"
	CodeEncryptedPDF     Code = "ENCRYPTED_PDF"
)

// Search codes.
const (
	CodeSearchTimeout Code = "SEARCH_TIMEOUT"
)

// Database codes.
const (
	CodeDBConnection Code = "DATABASE_CONNECTION_ERROR"
	CodeDBQuery      Code = "DATABASE_QUERY_ERROR"
)

// Scheduling codes.
const (
	CodeInvalidScope         Code = "INVALID_SCOPE"
	CodePathValidationFailed Code = "PATH_VALIDATION_FAILED"
	CodeConflict             Code = "CONFLICT"
	CodeNotServerScope       Code = "NOT_SERVER_SCOPE"
	CodeScopeChangeForbidden Code = "SCOPE_CHANGE_FORBIDDEN"
)

// Lock codes.
const (
	CodeLockHeld     Code = "LOCK_HELD"
	CodeLockNotFound Code = "LOCK_NOT_FOUND"
)

// Sentinel errors. Components return these (usually wrapped) and the HTTP
// layer maps them to envelopes via Code.
var (
	ErrNotImplemented      = New(CodeNotImplemented, "not implemented")
	ErrServiceInitializing = New(CodeServiceInitializing, "service is initializing")

	ErrUnauthorized  = New(CodeUnauthorized, "authentication required")
	ErrForbidden     = New(CodeForbidden, "permission denied")
	ErrInvalidAPIKey = New(CodeInvalidAPIKey, "invalid API key")
	ErrDemoMode      = New(CodeDemoMode, "operation not allowed in demo mode")
	ErrRateLimited   = New(CodeRateLimited, "too many requests")

	ErrLicenseNotFound  = New(CodeLicenseNotFound, "no license configured")
	ErrLicenseExpired   = New(CodeLicenseExpired, "license has expired")
	ErrLicenseInvalid   = New(CodeLicenseInvalid, "license is invalid")
	ErrLicenseRevoked   = New(CodeLicenseRevoked, "license has been revoked")
	ErrSeatLimitReached = New(CodeSeatLimitReached, "license seat limit reached")

	ErrDocumentNotFound  = New(CodeDocumentNotFound, "document not found")
	ErrUnsupportedFormat = New(CodeUnsupportedFmt, "unsupported document format")
	ErrProcessingFailed  = New(CodeProcessingFailed, "document processing failed")
	ErrEncryptedPDF      = New(CodeEncryptedPDF, "PDF is encrypted")

	ErrSearchTimeout = New(CodeSearchTimeout, "search timed out")

	ErrInvalidScope         = New(CodeInvalidScope, "invalid execution scope")
	ErrPathValidationFailed = New(CodePathValidationFailed, "path is not an existing directory")
	ErrConflict             = New(CodeConflict, "conflicting resource exists")
	ErrNotServerScope       = New(CodeNotServerScope, "watched folder is not server scope")
	ErrScopeChangeForbidden = New(CodeScopeChangeForbidden, "scope changes must use transition-scope")

	ErrLockHeld     = New(CodeLockHeld, "document lock held by another client")
	ErrLockNotFound = New(CodeLockNotFound, "no active lock found")
)

// Error pairs a registry code with a human message. It supports wrapping so
// call sites can add context without losing the code.
type Error struct {
	code    Code
	message string
	cause   error
}

// New creates a registry error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates a registry error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying cause. CodeOf(err) resolves to code;
// errors.Is and errors.As still see the cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{code: code, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two registry errors by code, so errors.Is(err, ErrLockHeld)
// works for any wrapped error carrying CodeLockHeld.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.code == t.code
	}
	return false
}

// ErrCode returns the registry code of e.
func (e *Error) Code() Code { return e.code }

// Message returns the human-readable message without the cause chain.
func (e *Error) Message() string { return e.message }

// CodeOf extracts the registry code from an error chain. Unrecognized errors
// report CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given registry code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
