package certificate

import "fmt"

// Error represents a structured error from the certificate package
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type ErrorCode string

const (
	ErrCodeValidation    ErrorCode = "validation"
	ErrCodeSigning       ErrorCode = "signing"
	ErrCodeVerification  ErrorCode = "verification"
	ErrCodeKeyManagement ErrorCode = "key_management"
)

// CertificateError represents a structured error from the certificate package
type CertificateError struct {

	// code is the certificate error code
	code ErrorCode

	// message is a human-readable error message
	message string

	// wrapped is the optional underlying error
	wrapped error
}

func (e *CertificateError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *CertificateError) Code() ErrorCode { return e.code }
func (e *CertificateError) Unwrap() error   { return e.wrapped }

// NewValidationError creates a validation error for invalid input.
// Use this for errors related to malformed npubs, bad encodings,
// or claims that fail structural checks.
//
// The returned error will have code ErrCodeValidation.
func NewValidationError(msg string) error {
	return &CertificateError{code: ErrCodeValidation, message: msg}
}

// WrapValidationError wraps an existing error as a validation error.
// Use this for errors related to malformed npubs, bad encodings,
// or claims that fail structural checks.
//
// The returned error will have code ErrCodeValidation.
func WrapValidationError(err error, msg string) error {
	return &CertificateError{code: ErrCodeValidation, message: msg, wrapped: err}
}

// NewSigningError creates a signing error.
// Use this for errors raised while producing a certificate: token build
// failures, event serialization failures, or signature creation failures.
//
// The returned error will have code ErrCodeSigning.
func NewSigningError(msg string) error {
	return &CertificateError{code: ErrCodeSigning, message: msg}
}

// WrapSigningError wraps an existing error as a signing error.
// Use this for errors raised while producing a certificate: token build
// failures, event serialization failures, or signature creation failures.
//
// The returned error will have code ErrCodeSigning.
func WrapSigningError(err error, msg string) error {
	return &CertificateError{code: ErrCodeSigning, message: msg, wrapped: err}
}

// NewVerificationError creates a verification error.
// Use this for errors related to signature mismatches, recomputed event IDs
// that do not match, or expired certificates.
//
// The returned error will have code ErrCodeVerification.
func NewVerificationError(msg string) error {
	return &CertificateError{code: ErrCodeVerification, message: msg}
}

// WrapVerificationError wraps an existing error as a verification error.
// Use this for errors related to signature mismatches, recomputed event IDs
// that do not match, or expired certificates.
//
// The returned error will have code ErrCodeVerification.
func WrapVerificationError(err error, msg string) error {
	return &CertificateError{code: ErrCodeVerification, message: msg, wrapped: err}
}

// NewKeyManagementError creates a key management error.
// Use this for errors related to decoding signing keys, deriving key IDs,
// or building JWK sets.
//
// The returned error will have code ErrCodeKeyManagement.
func NewKeyManagementError(msg string) error {
	return &CertificateError{code: ErrCodeKeyManagement, message: msg}
}

// WrapKeyManagementError wraps an existing error as a key management error.
// Use this for errors related to decoding signing keys, deriving key IDs,
// or building JWK sets.
//
// The returned error will have code ErrCodeKeyManagement.
func WrapKeyManagementError(err error, msg string) error {
	return &CertificateError{code: ErrCodeKeyManagement, message: msg, wrapped: err}
}
