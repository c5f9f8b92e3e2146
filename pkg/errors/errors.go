package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// SignerError is the typed error surfaced by the remote signer client, the
// signer runtime configuration checks and the pinning gate.
type SignerError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	RawBody    string `json:"raw_body,omitempty"`
	Cause      error  `json:"-"`
}

func (e *SignerError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SignerError) Unwrap() error {
	return e.Cause
}

// Signer request error codes
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeReplayNonce  = "REPLAY_NONCE"
	ErrCodeInvalidAuth  = "INVALID_AUTH"
	ErrCodePolicyDenied = "POLICY_DENIED"
	ErrCodeServerError  = "SERVER_ERROR"
	ErrCodeUnavailable  = "UNAVAILABLE"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeNetworkError = "NETWORK_ERROR"
	ErrCodeUnknown      = "UNKNOWN_ERROR"
)

// Signer runtime configuration error codes
const (
	ErrCodeMissingProxyURL    = "MISSING_PROXY_URL"
	ErrCodeInvalidProxyURL    = "INVALID_PROXY_URL"
	ErrCodeInsecureTransport  = "INSECURE_TRANSPORT"
	ErrCodeMTLSRequired       = "MTLS_REQUIRED"
	ErrCodeMissingCredentials = "MISSING_CREDENTIALS"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeInvalidRequester   = "INVALID_REQUESTER"
)

// Pinning gate error codes
const (
	ErrCodePinningUnavailable = "PINNING_UNAVAILABLE"
	ErrCodePinningInitFailed  = "PINNING_INIT_FAILED"
)

// New creates a new SignerError
func New(code, message string, httpStatus int) *SignerError {
	return &SignerError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap creates a SignerError that keeps cause in its chain.
func Wrap(code, message string, cause error) *SignerError {
	return &SignerError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Validation creates a client-side validation error. Validation errors never
// reach the network, so the status is always zero.
func Validation(message string) *SignerError {
	return New(ErrCodeValidation, message, 0)
}

// Config creates a signer runtime configuration error.
func Config(code, message string) *SignerError {
	return New(code, message, 0)
}

// CodeForStatus maps a non-2xx HTTP status and its body to an error code.
func CodeForStatus(status int, body string) string {
	switch {
	case status == http.StatusUnauthorized:
		lower := strings.ToLower(body)
		if strings.Contains(lower, "replay") || strings.Contains(lower, "nonce") {
			return ErrCodeReplayNonce
		}
		return ErrCodeInvalidAuth
	case status == http.StatusForbidden:
		return ErrCodePolicyDenied
	case status == http.StatusServiceUnavailable:
		return ErrCodeUnavailable
	case status >= 500:
		return ErrCodeServerError
	default:
		return ErrCodeUnknown
	}
}

// IsRetryable reports whether the error class is worth another attempt.
func (e *SignerError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeNetworkError, ErrCodeUnavailable, ErrCodeServerError:
		return true
	}
	return false
}

// IsAuthError reports whether the signer rejected the caller's credentials.
func (e *SignerError) IsAuthError() bool {
	return e.Code == ErrCodeInvalidAuth || e.Code == ErrCodeReplayNonce
}

// IsPolicyError reports whether the signer refused on policy grounds.
func (e *SignerError) IsPolicyError() bool {
	return e.Code == ErrCodePolicyDenied
}

// AsSignerError checks if an error is a SignerError
func AsSignerError(err error) (*SignerError, bool) {
	var signerErr *SignerError
	if errors.As(err, &signerErr) {
		return signerErr, true
	}
	return nil, false
}

// HasCode reports whether err carries a SignerError with the given code.
func HasCode(err error, code string) bool {
	signerErr, ok := AsSignerError(err)
	return ok && signerErr.Code == code
}
