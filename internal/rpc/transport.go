// Package rpc is the resilient JSON-RPC transport shared by the chain client
// and the session key registrar. Every call is retried with capped exponential
// backoff and jitter, then fails over to the configured fallback endpoints.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/better-wallet/session-keyring/internal/logger"
	"github.com/better-wallet/session-keyring/internal/metrics"
	"github.com/better-wallet/session-keyring/internal/redact"
)

// Options bounds a single logical call.
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	FallbackURLs []string
}

// DefaultOptions returns the transport defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:    15 * time.Second,
		MaxRetries: 2,
		BaseDelay:  300 * time.Millisecond,
		MaxDelay:   3 * time.Second,
	}
}

// CallError is returned once every endpoint has been exhausted or a
// non-retryable failure stopped the call.
type CallError struct {
	Method   string
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc %s failed after %d attempt(s): %s", e.Method, e.Attempts, redact.Error(e.Err))
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Transport performs JSON-RPC calls over HTTP.
type Transport struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics

	mu      sync.Mutex
	clients map[string]*gethrpc.Client
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient sets the HTTP client used for every endpoint.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = client
	}
}

// WithRateLimit throttles attempts client-side. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(t *Transport) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics records attempt outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// NewTransport creates a new Transport
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		httpClient: &http.Client{},
		clients:    make(map[string]*gethrpc.Client),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Close releases every cached endpoint client.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for url, c := range t.clients {
		c.Close()
		delete(t.clients, url)
	}
}

// Call invokes method on primaryURL, then on each fallback URL in order.
// result is decoded from the JSON-RPC result field.
func (t *Transport) Call(ctx context.Context, primaryURL, method string, result any, params []any, opts Options) error {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	endpoints := append([]string{primaryURL}, opts.FallbackURLs...)

	var (
		attempts int
		lastErr  error
	)
	for i, endpoint := range endpoints {
		client, err := t.client(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		err = t.callEndpoint(ctx, client, method, result, params, opts, &attempts)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) {
			break
		}
		if i < len(endpoints)-1 {
			logger.FromContext(ctx).Warn("rpc endpoint exhausted, trying fallback",
				"method", method, "attempts", attempts, "error", redact.Error(err))
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil && lastErr == nil {
		lastErr = ctxErr
	}
	return &CallError{Method: method, Attempts: attempts, Err: lastErr}
}

func (t *Transport) callEndpoint(ctx context.Context, client *gethrpc.Client, method string, result any, params []any, opts Options, attempts *int) error {
	operation := func() error {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		*attempts++
		attemptCtx, cancel := withOptionalTimeout(ctx, opts.Timeout)
		defer cancel()

		err := client.CallContext(attemptCtx, result, method, params...)
		switch {
		case err == nil:
			t.metrics.RPCAttempt(method, "ok")
			return nil
		case ctx.Err() != nil:
			t.metrics.RPCAttempt(method, "canceled")
			return backoff.Permanent(err)
		case !IsRetryable(err):
			t.metrics.RPCAttempt(method, "fatal")
			return backoff.Permanent(err)
		default:
			t.metrics.RPCAttempt(method, "retryable")
			return err
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newJitterBackOff(opts.BaseDelay, opts.MaxDelay), uint64(opts.MaxRetries)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		logger.FromContext(ctx).Debug("rpc attempt failed, retrying",
			"method", method, "wait", wait, "error", redact.Error(err))
	}
	return backoff.RetryNotify(operation, policy, notify)
}

func (t *Transport) client(ctx context.Context, endpoint string) (*gethrpc.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[endpoint]; ok {
		return c, nil
	}
	c, err := gethrpc.DialOptions(ctx, endpoint, gethrpc.WithHTTPClient(t.httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}
	t.clients[endpoint] = c
	return c, nil
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// jitterBackOff yields min(base*2^n, max) plus up to 50% jitter.
type jitterBackOff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func newJitterBackOff(base, max time.Duration) *jitterBackOff {
	if base <= 0 {
		base = DefaultOptions().BaseDelay
	}
	if max < base {
		max = base
	}
	return &jitterBackOff{base: base, max: max}
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	delay := b.max
	if b.attempt < 32 {
		if d := b.base << b.attempt; d > 0 && d < b.max {
			delay = d
		}
	}
	b.attempt++
	return delay + time.Duration(rand.Float64()*0.5*float64(delay))
}

func (b *jitterBackOff) Reset() {
	b.attempt = 0
}

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

const (
	codeInternalError      = -32603
	codeServerErrorRangeLo = -32099
	codeServerErrorRangeHi = -32000
)

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, gethrpc.ErrNoResult) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		return retryableStatus[httpErr.StatusCode]
	}

	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		code := rpcErr.ErrorCode()
		return code == codeInternalError || (code >= codeServerErrorRangeLo && code <= codeServerErrorRangeHi)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return false
	}

	// Transport level failures: refused connections, resets, DNS.
	return true
}
