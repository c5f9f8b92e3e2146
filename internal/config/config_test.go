package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/better-wallet/session-keyring/pkg/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validRemote() RemoteSigner {
	return RemoteSigner{
		ProxyURL:   "https://signer.example.com",
		ClientID:   "wallet-client",
		HMACSecret: testSecret,
		Requester:  "session-keyring",
		Tool:       "execute_transfer",
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: "development",
			SignerMode:  SignerModeLocal,
			Network:     "sepolia",
			RPC:         RPCConfig{URL: "https://rpc.example.com", MaxRetries: 2},
			Store:       StoreConfig{Backend: "memory"},
			KMS:         KMSConfig{Provider: "local"},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "valid local config", mutate: func(c *Config) {}},
		{
			name: "valid remote config",
			mutate: func(c *Config) {
				c.SignerMode = SignerModeRemote
				c.Remote = validRemote()
			},
		},
		{
			name:   "invalid signer mode",
			mutate: func(c *Config) { c.SignerMode = "hsm" },
			errMsg: "SIGNER_MODE must be",
		},
		{
			name:   "invalid network",
			mutate: func(c *Config) { c.Network = "goerli" },
			errMsg: "STARKNET_NETWORK must be",
		},
		{
			name:   "missing rpc url",
			mutate: func(c *Config) { c.RPC.URL = "" },
			errMsg: "STARKNET_RPC_URL is required",
		},
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.Store.Backend = "postgres" },
			errMsg: "POSTGRES_DSN is required",
		},
		{
			name: "aws kms without region",
			mutate: func(c *Config) {
				c.KMS = KMSConfig{Provider: "aws-kms", AWSKeyID: "alias/k"}
			},
			errMsg: "KMS_AWS_KEY_ID and KMS_AWS_REGION are required",
		},
		{
			name: "remote config errors propagate",
			mutate: func(c *Config) {
				c.SignerMode = SignerModeRemote
			},
			errMsg: apperrors.ErrCodeMissingProxyURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRemoteSigner_Validate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(r *RemoteSigner)
		production bool
		code       string
	}{
		{name: "valid https", mutate: func(r *RemoteSigner) {}},
		{
			name:   "loopback http outside production",
			mutate: func(r *RemoteSigner) { r.ProxyURL = "http://127.0.0.1:8545" },
		},
		{
			name: "valid production",
			mutate: func(r *RemoteSigner) {
				r.MTLSRequired = true
				r.MTLSCertFile = "client.pem"
				r.MTLSKeyFile = "client.key"
			},
			production: true,
		},
		{name: "missing url", mutate: func(r *RemoteSigner) { r.ProxyURL = "  " }, code: apperrors.ErrCodeMissingProxyURL},
		{name: "protocol-less url", mutate: func(r *RemoteSigner) { r.ProxyURL = "signer.example.com" }, code: apperrors.ErrCodeInvalidProxyURL},
		{name: "plain http", mutate: func(r *RemoteSigner) { r.ProxyURL = "http://signer.example.com" }, code: apperrors.ErrCodeInsecureTransport},
		{name: "file scheme", mutate: func(r *RemoteSigner) { r.ProxyURL = "file://signer/etc" }, code: apperrors.ErrCodeInsecureTransport},
		{
			name:       "loopback in production",
			mutate:     func(r *RemoteSigner) { r.ProxyURL = "https://localhost:9443"; r.MTLSRequired = true },
			production: true,
			code:       apperrors.ErrCodeInsecureTransport,
		},
		{name: "production without mtls", mutate: func(r *RemoteSigner) {}, production: true, code: apperrors.ErrCodeMTLSRequired},
		{name: "mtls without files", mutate: func(r *RemoteSigner) { r.MTLSRequired = true }, code: apperrors.ErrCodeMTLSRequired},
		{name: "blank client id", mutate: func(r *RemoteSigner) { r.ClientID = " " }, code: apperrors.ErrCodeMissingCredentials},
		{name: "blank secret", mutate: func(r *RemoteSigner) { r.HMACSecret = "" }, code: apperrors.ErrCodeMissingCredentials},
		{name: "short secret", mutate: func(r *RemoteSigner) { r.HMACSecret = "short" }, code: apperrors.ErrCodeInvalidCredentials},
		{
			name:   "secret with whitespace",
			mutate: func(r *RemoteSigner) { r.HMACSecret = testSecret + " tail" },
			code:   apperrors.ErrCodeInvalidCredentials,
		},
		{name: "empty requester", mutate: func(r *RemoteSigner) { r.Requester = "" }, code: apperrors.ErrCodeInvalidRequester},
		{
			name:   "requester too long",
			mutate: func(r *RemoteSigner) { r.Requester = strings.Repeat("a", 65) },
			code:   apperrors.ErrCodeInvalidRequester,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRemote()
			tt.mutate(&r)
			err := r.Validate(tt.production)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			signerErr, ok := apperrors.AsSignerError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, signerErr.Code)
			assert.Zero(t, signerErr.HTTPStatus)
		})
	}
}

func TestRemoteSigner_RequestTimeout(t *testing.T) {
	assert.Equal(t, 10*time.Second, RemoteSigner{}.RequestTimeout())
	assert.Equal(t, 2500*time.Millisecond, RemoteSigner{RequestTimeoutMs: 2500}.RequestTimeout())
}

func TestIsLoopbackHost(t *testing.T) {
	assert.True(t, IsLoopbackHost("localhost"))
	assert.True(t, IsLoopbackHost("127.0.0.1"))
	assert.True(t, IsLoopbackHost("[::1]"))
	assert.False(t, IsLoopbackHost("signer.example.com"))
	assert.False(t, IsLoopbackHost("10.0.0.1"))
}

func TestLoad(t *testing.T) {
	t.Setenv("STARKNET_RPC_URL", "https://rpc.example.com")
	t.Setenv("STARKNET_RPC_FALLBACK_URLS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("KEYRING_PINNED_HASHES", "hashA=,hashB=")
	t.Setenv("RPC_MAX_RETRIES", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, SignerModeLocal, cfg.SignerMode)
	assert.Equal(t, "sepolia", cfg.Network)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPC.FallbackURLs)
	assert.Equal(t, []string{"hashA=", "hashB="}, cfg.Remote.PinnedHashes)
	assert.Equal(t, 4, cfg.RPC.MaxRetries)
	assert.Equal(t, 15*time.Second, cfg.RPC.Timeout())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("STARKNET_RPC_URL", "")
	t.Setenv("SIGNER_MODE", "local")

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid configuration")
}
