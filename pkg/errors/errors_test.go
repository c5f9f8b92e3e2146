package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *SignerError
		expected string
	}{
		{
			name:     "error without status",
			err:      Validation("base URL must use https"),
			expected: "VALIDATION_ERROR: base URL must use https",
		},
		{
			name:     "error with status",
			err:      New(ErrCodePolicyDenied, "denied", http.StatusForbidden),
			expected: "POLICY_DENIED: denied (status 403)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		code   string
	}{
		{http.StatusUnauthorized, `{"error":"replay_nonce"}`, ErrCodeReplayNonce},
		{http.StatusUnauthorized, `{"error":"Nonce already used"}`, ErrCodeReplayNonce},
		{http.StatusUnauthorized, `{"error":"bad signature"}`, ErrCodeInvalidAuth},
		{http.StatusForbidden, "", ErrCodePolicyDenied},
		{http.StatusServiceUnavailable, "", ErrCodeUnavailable},
		{http.StatusInternalServerError, "", ErrCodeServerError},
		{http.StatusBadGateway, "", ErrCodeServerError},
		{http.StatusBadRequest, "", ErrCodeUnknown},
		{http.StatusTooManyRequests, "", ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.status, tt.body), func(t *testing.T) {
			assert.Equal(t, tt.code, CodeForStatus(tt.status, tt.body))
		})
	}
}

func TestPredicates(t *testing.T) {
	codes := []string{
		ErrCodeValidation, ErrCodeReplayNonce, ErrCodeInvalidAuth, ErrCodePolicyDenied,
		ErrCodeServerError, ErrCodeUnavailable, ErrCodeTimeout, ErrCodeNetworkError, ErrCodeUnknown,
	}

	for _, code := range codes {
		err := New(code, "x", 0)
		assert.False(t, err.IsAuthError() && err.IsPolicyError(), "auth and policy overlap for %s", code)
		if err.IsAuthError() || err.IsPolicyError() {
			assert.False(t, err.IsRetryable(), "%s must not be retryable", code)
		}
	}

	assert.True(t, New(ErrCodeTimeout, "", 0).IsRetryable())
	assert.True(t, New(ErrCodeUnavailable, "", 503).IsRetryable())
	assert.False(t, New(ErrCodeValidation, "", 0).IsRetryable())
	assert.True(t, New(ErrCodeReplayNonce, "", 401).IsAuthError())
	assert.True(t, New(ErrCodePolicyDenied, "", 403).IsPolicyError())
}

func TestAsSignerError(t *testing.T) {
	t.Run("wrapped signer error", func(t *testing.T) {
		original := New(ErrCodeTimeout, "request timed out", 0)
		wrapped := fmt.Errorf("sign transfer: %w", original)

		signerErr, ok := AsSignerError(wrapped)
		require.True(t, ok)
		assert.Equal(t, ErrCodeTimeout, signerErr.Code)
		assert.True(t, HasCode(wrapped, ErrCodeTimeout))
	})

	t.Run("plain error", func(t *testing.T) {
		_, ok := AsSignerError(errors.New("boom"))
		assert.False(t, ok)
		assert.False(t, HasCode(errors.New("boom"), ErrCodeTimeout))
	})

	t.Run("cause is unwrapped", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		err := Wrap(ErrCodeNetworkError, "signer unreachable", cause)
		assert.ErrorIs(t, err, cause)
	})
}
