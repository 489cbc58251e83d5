package tollbooth

// error_response.go implements the error response envelope for the certification API
// and the mapping from TollboothError codes to HTTP status codes.

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dpyc-network/tollbooth-authority/internal/logger"
)

// ErrorResponse is the envelope returned to clients for every failed request.
type ErrorResponse struct {

	// The HTTP method used to make the request e.g. GET, POST, etc
	HTTPMethod string `json:"httpMethod"`

	// The URI that was requested
	RequestURI string `json:"requestUri"`

	// The HTTP status code returned
	StatusCode int `json:"statusCode"`

	// A standard short description corresponding to the HTTP status code
	StatusCodeText string `json:"statusCodeText"`

	// error code used on the platform: 7000-7999 for technical errors, 8000-8999 for functional errors
	ErrorCode ErrorCode `json:"errorCode"`

	// A sanitized short description of the error code
	ErrorCodeText string `json:"errorCodeText"`

	// A human-readable message describing what went wrong
	Message string `json:"message"`

	// A unique identifier for the HTTP request
	RequestID string `json:"requestId,omitempty"`

	// The DateTime corresponding to the error occurring
	ErrorDateTime string `json:"errorDateTime"`
}

// MapErrorToResponse maps a TollboothError (or generic error) to an error response.
//
// The error code text is sanitized for the response, but the full error message is
// logged server-side. The mapping also establishes the appropriate HTTP status code
// based on the error code.
//
// Call this function to set up the error response before sending it to the client
// (using RespondWithErrorResponse).
func MapErrorToResponse(err error, r *http.Request) *ErrorResponse {
	requestID := middleware.GetReqID(r.Context())

	var tbErr *TollboothError
	if errors.As(err, &tbErr) {
		return errorResponseFromTollbooth(tbErr, r, requestID)
	}

	// fallback - this is not expected - if it happens, return an internal error
	// response and log the unmapped error
	reqLogger := logger.ContextRequestLogger(r.Context())
	reqLogger.Error("BUG: Unmapped error type in MapErrorToResponse",
		slog.String("error_type", fmt.Sprintf("%T", err)),
		slog.String("error", err.Error()),
		slog.String("request_id", requestID),
	)
	return &ErrorResponse{
		HTTPMethod:     r.Method,
		RequestURI:     r.RequestURI,
		StatusCode:     http.StatusInternalServerError,
		StatusCodeText: http.StatusText(http.StatusInternalServerError),
		ErrorCode:      ErrCodeInternalError,
		ErrorCodeText:  "Internal Error",
		Message:        "An internal error occurred",
		RequestID:      requestID,
		ErrorDateTime:  time.Now().UTC().Format(time.RFC3339),
	}
}

// errorResponseFromTollbooth maps TollboothError codes to HTTP statuses
// the error code text is sanitized for the response, but the full error message is logged server-side
func errorResponseFromTollbooth(err *TollboothError, r *http.Request, requestID string) *ErrorResponse {
	var statusCode int
	var errorCodeText string

	switch err.Code() {
	case ErrCodeInvalidInput:
		statusCode = http.StatusBadRequest
		errorCodeText = "Invalid input"
	case ErrCodeMalformedRequest:
		statusCode = http.StatusBadRequest
		errorCodeText = "Malformed request"
	case ErrCodeSigningUnavailable:
		statusCode = http.StatusServiceUnavailable
		errorCodeText = "Certificate signing unavailable"
	case ErrCodePersistenceDegraded:
		statusCode = http.StatusServiceUnavailable
		errorCodeText = "Ledger unavailable"
	case ErrCodeRateLimitExceeded:
		statusCode = http.StatusTooManyRequests
		errorCodeText = "Rate limit exceeded"
	case ErrCodeRequestTooLarge:
		statusCode = http.StatusRequestEntityTooLarge
		errorCodeText = "Request too large"
	case ErrCodeInsufficientBalance:
		statusCode = http.StatusPaymentRequired
		errorCodeText = "Insufficient balance"
	case ErrCodeInsufficientSupply:
		statusCode = http.StatusPaymentRequired
		errorCodeText = "Insufficient upstream supply"
	case ErrCodeMembershipDenied:
		statusCode = http.StatusForbidden
		errorCodeText = "Membership denied"
	case ErrCodeReplayDetected:
		statusCode = http.StatusConflict
		errorCodeText = "Replay detected"
	case ErrCodeAdminDenied:
		statusCode = http.StatusForbidden
		errorCodeText = "Admin access denied"
	case ErrCodeNotFound:
		statusCode = http.StatusNotFound
		errorCodeText = "Not found"
	default:
		statusCode = http.StatusInternalServerError
		errorCodeText = "Internal Error"
	}

	return &ErrorResponse{
		HTTPMethod:     r.Method,
		RequestURI:     r.RequestURI,
		StatusCode:     statusCode,
		StatusCodeText: http.StatusText(statusCode),
		ErrorCode:      err.Code(),
		ErrorCodeText:  errorCodeText,
		Message:        err.Error(),
		RequestID:      requestID,
		ErrorDateTime:  time.Now().UTC().Format(time.RFC3339),
	}
}
