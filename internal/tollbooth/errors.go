package tollbooth

// errors.go defines the error codes used by the certification API

import "fmt"

// TollboothError represents a structured error from the tollbooth package.
type TollboothError struct {
	// code is the tollbooth error code
	code ErrorCode

	// message is a human-readable error message
	message string

	// wrapped is the optional underlying error
	wrapped error
}

func (e *TollboothError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *TollboothError) Code() ErrorCode { return e.code }
func (e *TollboothError) Unwrap() error   { return e.wrapped }

// ErrorCode is used in errors returned by the certification API.
//
// Code ranges:
//
//   - 7000-7999 for technical errors - the request could not be processed due to a
//     problem with the supplied data or the service itself.
//   - 8000-8999 for functional errors - the request was well-formed but a business
//     rule prevented it from completing (e.g. insufficient balance).
type ErrorCode int

// Error codes used by the certification API
const (

	// ErrCodeInvalidInput is used when a request field fails validation
	// (e.g. non-positive purchase amount, malformed npub)
	ErrCodeInvalidInput ErrorCode = 7001

	// ErrCodeMalformedRequest is used when JSON parsing or encoding fails
	ErrCodeMalformedRequest ErrorCode = 7002

	// ErrCodeSigningUnavailable is used when the certificate signer cannot be
	// used because key material is missing or invalid.
	// This is a deployment configuration problem, not a per-request one.
	ErrCodeSigningUnavailable ErrorCode = 7003

	// ErrCodePersistenceDegraded is used when a ledger flush to the vault fails.
	// The error is logged and never returned to certification callers - an
	// issued certificate stands regardless of vault health.
	ErrCodePersistenceDegraded ErrorCode = 7004

	// ErrCodeInternalError is used when an internal server error occurs
	ErrCodeInternalError ErrorCode = 7005

	// ErrCodeRateLimitExceeded is used when the rate limit is exceeded
	// - this is only used in the middleware
	ErrCodeRateLimitExceeded ErrorCode = 7006

	// ErrCodeRequestTooLarge is used when the request body is too large
	// - this is only used in the middleware
	ErrCodeRequestTooLarge ErrorCode = 7007

	// ErrCodeInsufficientBalance is used when the operator's tax balance cannot
	// cover the computed fee. Nothing has been committed when this is returned.
	ErrCodeInsufficientBalance ErrorCode = 8001

	// ErrCodeInsufficientSupply is used when the shared upstream supply account
	// cannot cover the full purchase amount. The operator's fee debit has been
	// rolled back when this is returned.
	ErrCodeInsufficientSupply ErrorCode = 8002

	// ErrCodeMembershipDenied is used when the DPYC registry check fails for
	// any reason: fetch error, parse error, member absent or member inactive.
	// All prior debits have been rolled back when this is returned.
	ErrCodeMembershipDenied ErrorCode = 8003

	// ErrCodeReplayDetected is used when a certificate id is presented again
	// within the replay TTL window.
	ErrCodeReplayDetected ErrorCode = 8004

	// ErrCodeAdminDenied is used when an admin request does not carry the
	// configured authority npub.
	ErrCodeAdminDenied ErrorCode = 8005

	// ErrCodeNotFound is used when a requested resource does not exist
	// (e.g. the JWKS endpoint under the nostr-event scheme)
	ErrCodeNotFound ErrorCode = 8006
)

// NewInvalidInputError creates an error for invalid request fields.
// Use this for non-positive purchase amounts, malformed npubs and similar
// validation failures that are rejected before any state change.
//
// The returned error will have code ErrCodeInvalidInput.
func NewInvalidInputError(msg string) error {
	return &TollboothError{code: ErrCodeInvalidInput, message: msg}
}

// NewMalformedRequestError creates an error for malformed requests.
func NewMalformedRequestError(msg string) error {
	return &TollboothError{code: ErrCodeMalformedRequest, message: msg}
}

// WrapMalformedRequestError wraps an existing error as a malformed request error.
func WrapMalformedRequestError(err error, msg string) error {
	return &TollboothError{code: ErrCodeMalformedRequest, message: msg, wrapped: err}
}

// NewInsufficientBalanceError creates an insufficient balance error.
// Use this when the operator debit fails - nothing has been committed, so no
// rollback is required before returning it.
//
// The returned error will have code ErrCodeInsufficientBalance.
func NewInsufficientBalanceError(msg string) error {
	return &TollboothError{code: ErrCodeInsufficientBalance, message: msg}
}

// NewInsufficientSupplyError creates an insufficient upstream supply error.
// Only return this after the operator fee debit has been rolled back.
//
// The returned error will have code ErrCodeInsufficientSupply.
func NewInsufficientSupplyError(msg string) error {
	return &TollboothError{code: ErrCodeInsufficientSupply, message: msg}
}

// NewMembershipDeniedError creates a membership denial error.
// Use this for every registry failure mode - the gate is fail-closed, so a
// fetch error and a missing member are reported identically.
//
// The returned error will have code ErrCodeMembershipDenied.
func NewMembershipDeniedError(msg string) error {
	return &TollboothError{code: ErrCodeMembershipDenied, message: msg}
}

// WrapMembershipDeniedError wraps an existing error as a membership denial.
// Use this for every registry failure mode - the gate is fail-closed, so a
// fetch error and a missing member are reported identically.
//
// The returned error will have code ErrCodeMembershipDenied.
func WrapMembershipDeniedError(err error, msg string) error {
	return &TollboothError{code: ErrCodeMembershipDenied, message: msg, wrapped: err}
}

// NewSigningUnavailableError creates an error for missing or unusable signing
// key material.
//
// The returned error will have code ErrCodeSigningUnavailable.
func NewSigningUnavailableError(msg string) error {
	return &TollboothError{code: ErrCodeSigningUnavailable, message: msg}
}

// WrapSigningUnavailableError wraps an existing error as a signing
// availability error.
//
// The returned error will have code ErrCodeSigningUnavailable.
func WrapSigningUnavailableError(err error, msg string) error {
	return &TollboothError{code: ErrCodeSigningUnavailable, message: msg, wrapped: err}
}

// WrapPersistenceDegradedError wraps a vault flush failure.
// These errors are logged, surfaced via cache health, and never fail a
// certification response.
//
// The returned error will have code ErrCodePersistenceDegraded.
func WrapPersistenceDegradedError(err error, msg string) error {
	return &TollboothError{code: ErrCodePersistenceDegraded, message: msg, wrapped: err}
}

// NewReplayDetectedError creates a replay detection error.
//
// The returned error will have code ErrCodeReplayDetected.
func NewReplayDetectedError(msg string) error {
	return &TollboothError{code: ErrCodeReplayDetected, message: msg}
}

// NewAdminDeniedError creates an admin authorization error.
//
// The returned error will have code ErrCodeAdminDenied.
func NewAdminDeniedError(msg string) error {
	return &TollboothError{code: ErrCodeAdminDenied, message: msg}
}

// NewNotFoundError creates a not-found error.
//
// The returned error will have code ErrCodeNotFound.
func NewNotFoundError(msg string) error {
	return &TollboothError{code: ErrCodeNotFound, message: msg}
}

// NewInternalError creates an internal error for unexpected failures.
// Use this for errors related to unexpected nil values, system errors,
// or other failures that should not normally occur.
//
// The returned error will have code ErrCodeInternalError.
func NewInternalError(msg string) error {
	return &TollboothError{code: ErrCodeInternalError, message: msg}
}

// WrapInternalError wraps an existing error as an internal error.
// Use this for errors related to unexpected nil values, system errors,
// or other failures that should not normally occur.
//
// The returned error will have code ErrCodeInternalError.
func WrapInternalError(err error, msg string) error {
	return &TollboothError{code: ErrCodeInternalError, message: msg, wrapped: err}
}

// NewRateLimitError creates a rate limit exceeded error.
// Use this when the client has exceeded the rate limit.
//
// The returned error will have code ErrCodeRateLimitExceeded.
func NewRateLimitError(msg string) error {
	return &TollboothError{code: ErrCodeRateLimitExceeded, message: msg}
}

// NewRequestTooLargeError creates a request too large error.
// Use this when the request body exceeds the maximum allowed size.
//
// The returned error will have code ErrCodeRequestTooLarge.
func NewRequestTooLargeError(msg string) error {
	return &TollboothError{code: ErrCodeRequestTooLarge, message: msg}
}
