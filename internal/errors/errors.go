// Package errors provides standardized error codes for the client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that produced the error (config, auth, transport, session, storage)
//   - error: The specific error type within that domain
//
// The session state machine attaches a code to every failed status so that
// callers can react programmatically (for example, route the user back to
// pairing on auth.session_expired) while still showing a readable reason.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Config domain - user-supplied connection settings
	CodeInvalidConfiguration = "config.invalid" // Empty or unparsable server URL

	// Auth domain - handshake outcomes
	CodeNoCredentials  = "auth.no_credentials"  // Neither a reconnection token nor a pairing id is stored
	CodeAuthRejected   = "auth.rejected"        // Server rejected the pairing id
	CodeSessionExpired = "auth.session_expired" // Server rejected the reconnection token (server restarted)

	// Transport domain - network-level failures
	CodeTransportUnreachable = "transport.unreachable" // Network failure while a reconnection token was in play
	CodeTransportError       = "transport.error"       // Network failure during pairing-id auth
	CodeTransportClosed      = "transport.closed"      // Operation on a closed connection

	// Session domain - API misuse
	CodeSessionNotAuthenticated = "session.not_authenticated" // Command requires an authenticated session
	CodeSessionClosed           = "session.closed"            // Session event loop has stopped

	// Storage domain - persistence errors
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal client error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "auth.session_expired")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Retryable reports whether a failure with this code is retried automatically
// on the next foreground transition. Only transport failures that happened
// while a reconnection token was in play qualify; everything else needs the
// user to act.
func Retryable(code string) bool {
	return code == CodeTransportUnreachable
}

// Common error constructors for the connection failure taxonomy.

// NoServerURL creates a "config.invalid" error for a missing server URL.
func NoServerURL() *CodedError {
	return New(CodeInvalidConfiguration, "no server url")
}

// InvalidURL creates a "config.invalid" error for an unparsable server URL.
func InvalidURL(raw string, cause error) *CodedError {
	return Wrap(CodeInvalidConfiguration, "invalid url", fmt.Errorf("%q: %w", raw, cause))
}

// NoCredentials creates an "auth.no_credentials" error.
func NoCredentials() *CodedError {
	return New(CodeNoCredentials, "no credentials")
}

// AuthRejected creates an "auth.rejected" error.
// The pairing id was refused; the user must re-enter or re-scan it.
func AuthRejected() *CodedError {
	return New(CodeAuthRejected, "invalid credentials")
}

// SessionExpired creates an "auth.session_expired" error.
// The reconnection token was refused, which means the server lost its session
// table. Credentials are wiped and the user must pair again.
func SessionExpired() *CodedError {
	return New(CodeSessionExpired, "session expired")
}

// TransportUnreachable creates a "transport.unreachable" error.
// Stored credentials stay intact; the server may only be down temporarily.
func TransportUnreachable(cause error) *CodedError {
	return Wrap(CodeTransportUnreachable, "cannot reach server", cause)
}

// TransportError creates a "transport.error" error using the cause's text as
// the user-facing message.
func TransportError(cause error) *CodedError {
	msg := "connection failed"
	if cause != nil {
		msg = cause.Error()
	}
	return Wrap(CodeTransportError, msg, cause)
}

// NotAuthenticated creates a "session.not_authenticated" error.
func NotAuthenticated(operation string) *CodedError {
	return New(CodeSessionNotAuthenticated, fmt.Sprintf("cannot %s: session is not authenticated", operation))
}

// SessionClosed creates a "session.closed" error.
func SessionClosed() *CodedError {
	return New(CodeSessionClosed, "session has been closed")
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
