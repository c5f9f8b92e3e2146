// Package signerclient talks to the remote keyring proxy that signs session
// transactions on behalf of the wallet. Every failure is surfaced as an
// *errors.SignerError with a closed error code and a secret-free message.
package signerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/better-wallet/session-keyring/internal/config"
	"github.com/better-wallet/session-keyring/internal/metrics"
	"github.com/better-wallet/session-keyring/internal/redact"
	apperrors "github.com/better-wallet/session-keyring/pkg/errors"
)

const (
	// SessionSignPath signs a single session transaction.
	SessionSignPath = "/v1/sign/session"
	// KeyringSignPath signs a full account invoke for the session signer adapter.
	KeyringSignPath = "/v1/sign/session-transaction"

	maxResponseBytes = 1 << 20
	maxRawBodyChars  = 2048
)

// Authenticator adds authentication headers to an outgoing request.
type Authenticator interface {
	Authenticate(req *http.Request, body []byte) error
}

// Config configures a Client
type Config struct {
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey        string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Authenticator Authenticator
	// AllowInsecureLoopback permits http:// for loopback hosts. Development only.
	AllowInsecureLoopback bool
	Metrics               *metrics.Metrics
}

// Client is the remote signer client
type Client struct {
	baseURL       string
	apiKey        string
	timeout       time.Duration
	httpClient    *http.Client
	auth          Authenticator
	allowLoopback bool
	metrics       *metrics.Metrics
}

// New creates a Client. The base URL is validated on every request, before
// anything else, so construction never fails.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:       strings.TrimSpace(cfg.BaseURL),
		apiKey:        cfg.APIKey,
		timeout:       timeout,
		httpClient:    httpClient,
		auth:          cfg.Authenticator,
		allowLoopback: cfg.AllowInsecureLoopback,
		metrics:       cfg.Metrics,
	}
}

func (c *Client) validateBaseURL() error {
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Host == "" {
		return apperrors.Validation("signer base URL must be an absolute https URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		if c.allowLoopback && config.IsLoopbackHost(u.Hostname()) {
			return nil
		}
	}
	return apperrors.Validation("signer base URL must use https")
}

// post sends payload as JSON and returns the raw 2xx body.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrCodeValidation, "failed to encode request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := strings.TrimRight(c.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, apperrors.Validation("failed to build signer request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.auth != nil {
		if err := c.auth.Authenticate(req, body); err != nil {
			return nil, 0, c.fail(apperrors.Wrap(apperrors.ErrCodeUnknown,
				"failed to authenticate signer request", sanitizedCause(err)))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, c.fail(transportError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, c.fail(transportError(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, c.fail(statusError(resp.StatusCode, raw))
	}

	c.metrics.SignerRequest("OK")
	return raw, resp.StatusCode, nil
}

func (c *Client) fail(err *apperrors.SignerError) *apperrors.SignerError {
	c.metrics.SignerRequest(err.Code)
	return err
}

// transportError maps a failed round trip to TIMEOUT or NETWORK_ERROR.
func transportError(err error) *apperrors.SignerError {
	msg := redact.Error(err)
	lower := strings.ToLower(msg)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		strings.Contains(lower, "timeout") || strings.Contains(lower, "aborted") {
		return apperrors.Wrap(apperrors.ErrCodeTimeout, "signer request timed out: "+msg, sanitizedCause(err))
	}
	return apperrors.Wrap(apperrors.ErrCodeNetworkError, "signer request failed: "+msg, sanitizedCause(err))
}

// sanitizedCause keeps context sentinels reachable through errors.Is while
// never exposing unsanitized text from the original chain.
func sanitizedCause(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", redact.Error(err), context.DeadlineExceeded)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", redact.Error(err), context.Canceled)
	default:
		return errors.New(redact.Error(err))
	}
}

func statusError(status int, raw []byte) *apperrors.SignerError {
	body := string(raw)
	message := errorMessage(raw)
	if message == "" {
		message = http.StatusText(status)
	}
	if len(message) > maxRawBodyChars {
		message = message[:maxRawBodyChars]
	}
	if len(body) > maxRawBodyChars {
		body = body[:maxRawBodyChars]
	}
	return &apperrors.SignerError{
		Code:       apperrors.CodeForStatus(status, body),
		Message:    redact.Message(message),
		HTTPStatus: status,
		RawBody:    redact.Message(body),
	}
}

// errorMessage extracts "error", "error.message" or "message" from a JSON body.
func errorMessage(raw []byte) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}

	if len(body.Error) > 0 {
		var s string
		if json.Unmarshal(body.Error, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(body.Error, &nested) == nil {
			if nested.Message != "" {
				return nested.Message
			}
			if nested.Code != "" {
				return nested.Code
			}
		}
	}
	return body.Message
}
