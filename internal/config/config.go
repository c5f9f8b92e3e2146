package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/better-wallet/session-keyring/pkg/errors"
)

const (
	SignerModeLocal  = "local"
	SignerModeRemote = "remote"

	EnvironmentProduction = "production"

	DefaultRequestTimeout = 10 * time.Second
	minHMACSecretLength   = 32
)

var requesterPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// Config holds the runtime configuration of the session-key subsystem
type Config struct {
	Environment    string
	SignerMode     string // local or remote
	Network        string // mainnet or sepolia
	AccountAddress string

	// OwnerPrivateKey signs registration and revocation. Transfers never use it.
	OwnerPrivateKey string

	RPC    RPCConfig
	Remote RemoteSigner
	Store  StoreConfig
	KMS    KMSConfig
}

// RPCConfig configures the resilient JSON-RPC transport
type RPCConfig struct {
	URL          string
	FallbackURLs []string
	TimeoutMs    int
	MaxRetries   int
	BaseDelayMs  int
	MaxDelayMs   int
	RateLimitRPS float64
}

// RemoteSigner is the runtime configuration of the remote keyring proxy.
type RemoteSigner struct {
	ProxyURL         string
	ClientID         string
	HMACSecret       string
	KeyID            string
	RequestTimeoutMs int
	Requester        string
	Tool             string

	MTLSRequired bool
	MTLSCertFile string
	MTLSKeyFile  string
	CAFile       string

	PinnedHashes         []string
	PinIncludeSubdomains bool
	PinExpiration        string
}

// StoreConfig selects the secure storage backend
type StoreConfig struct {
	Backend     string // memory or postgres
	PostgresDSN string
}

// KMSConfig selects the envelope used to encrypt secrets at rest
type KMSConfig struct {
	Provider        string
	LocalMasterKey  string
	AWSKeyID        string
	AWSRegion       string
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     getEnv("APP_ENV", "development"),
		SignerMode:      getEnv("SIGNER_MODE", SignerModeLocal),
		Network:         getEnv("STARKNET_NETWORK", "sepolia"),
		AccountAddress:  getEnv("ACCOUNT_ADDRESS", ""),
		OwnerPrivateKey: os.Getenv("OWNER_PRIVATE_KEY"),
		RPC: RPCConfig{
			URL:          getEnv("STARKNET_RPC_URL", ""),
			FallbackURLs: getEnvList("STARKNET_RPC_FALLBACK_URLS"),
			TimeoutMs:    getEnvInt("RPC_TIMEOUT_MS", 15000),
			MaxRetries:   getEnvInt("RPC_MAX_RETRIES", 2),
			BaseDelayMs:  getEnvInt("RPC_BASE_DELAY_MS", 300),
			MaxDelayMs:   getEnvInt("RPC_MAX_DELAY_MS", 3000),
			RateLimitRPS: getEnvFloat("RPC_RATE_LIMIT_RPS", 0),
		},
		Remote: RemoteSigner{
			ProxyURL:             getEnv("KEYRING_PROXY_URL", ""),
			ClientID:             getEnv("KEYRING_CLIENT_ID", ""),
			HMACSecret:           os.Getenv("KEYRING_HMAC_SECRET"),
			KeyID:                getEnv("KEYRING_KEY_ID", ""),
			RequestTimeoutMs:     getEnvInt("KEYRING_REQUEST_TIMEOUT_MS", int(DefaultRequestTimeout/time.Millisecond)),
			Requester:            getEnv("KEYRING_REQUESTER", "session-keyring"),
			Tool:                 getEnv("KEYRING_TOOL", "execute_transfer"),
			MTLSRequired:         getEnvBool("KEYRING_MTLS_REQUIRED", false),
			MTLSCertFile:         getEnv("KEYRING_MTLS_CERT_FILE", ""),
			MTLSKeyFile:          getEnv("KEYRING_MTLS_KEY_FILE", ""),
			CAFile:               getEnv("KEYRING_CA_FILE", ""),
			PinnedHashes:         getEnvList("KEYRING_PINNED_HASHES"),
			PinIncludeSubdomains: getEnvBool("KEYRING_PIN_INCLUDE_SUBDOMAINS", false),
			PinExpiration:        getEnv("KEYRING_PIN_EXPIRATION", ""),
		},
		Store: StoreConfig{
			Backend:     getEnv("STORE_BACKEND", "memory"),
			PostgresDSN: getEnv("POSTGRES_DSN", ""),
		},
		KMS: KMSConfig{
			Provider:        getEnv("KMS_PROVIDER", "local"),
			LocalMasterKey:  os.Getenv("KMS_LOCAL_MASTER_KEY"),
			AWSKeyID:        getEnv("KMS_AWS_KEY_ID", ""),
			AWSRegion:       getEnv("KMS_AWS_REGION", ""),
			VaultAddress:    getEnv("KMS_VAULT_ADDRESS", ""),
			VaultToken:      os.Getenv("KMS_VAULT_TOKEN"),
			VaultTransitKey: getEnv("KMS_VAULT_TRANSIT_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether production-only invariants apply
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvironmentProduction)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SignerMode != SignerModeLocal && c.SignerMode != SignerModeRemote {
		return fmt.Errorf("SIGNER_MODE must be 'local' or 'remote', got: %s", c.SignerMode)
	}

	if c.Network != "mainnet" && c.Network != "sepolia" {
		return fmt.Errorf("STARKNET_NETWORK must be 'mainnet' or 'sepolia', got: %s", c.Network)
	}

	if c.RPC.URL == "" {
		return fmt.Errorf("STARKNET_RPC_URL is required")
	}

	if c.RPC.MaxRetries < 0 {
		return fmt.Errorf("RPC_MAX_RETRIES must not be negative")
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_BACKEND is 'postgres'")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be 'memory' or 'postgres', got: %s", c.Store.Backend)
	}

	switch c.KMS.Provider {
	case "local", "":
		if c.Store.Backend == "postgres" && c.KMS.LocalMasterKey == "" {
			return fmt.Errorf("KMS_LOCAL_MASTER_KEY is required when KMS_PROVIDER is 'local'")
		}
	case "aws-kms":
		if c.KMS.AWSKeyID == "" || c.KMS.AWSRegion == "" {
			return fmt.Errorf("KMS_AWS_KEY_ID and KMS_AWS_REGION are required when KMS_PROVIDER is 'aws-kms'")
		}
	case "vault":
		if c.KMS.VaultAddress == "" || c.KMS.VaultToken == "" || c.KMS.VaultTransitKey == "" {
			return fmt.Errorf("KMS_VAULT_ADDRESS, KMS_VAULT_TOKEN and KMS_VAULT_TRANSIT_KEY are required when KMS_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("KMS_PROVIDER must be 'local', 'aws-kms' or 'vault', got: %s", c.KMS.Provider)
	}

	if c.SignerMode == SignerModeRemote {
		if err := c.Remote.Validate(c.IsProduction()); err != nil {
			return err
		}
	}

	return nil
}

// Timeout returns the per-attempt RPC timeout
func (c RPCConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// BaseDelay returns the first backoff delay
func (c RPCConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap
func (c RPCConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// RequestTimeout returns the per-request signer timeout, defaulting to 10s.
func (r RemoteSigner) RequestTimeout() time.Duration {
	if r.RequestTimeoutMs <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(r.RequestTimeoutMs) * time.Millisecond
}

// Validate checks the remote signer invariants without touching the network.
// Errors are *apperrors.SignerError values carrying a configuration code.
func (r RemoteSigner) Validate(production bool) error {
	raw := strings.TrimSpace(r.ProxyURL)
	if raw == "" {
		return apperrors.Config(apperrors.ErrCodeMissingProxyURL, "remote signer proxy URL is required")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperrors.Config(apperrors.ErrCodeInvalidProxyURL, "remote signer proxy URL must be an absolute URL")
	}

	loopback := IsLoopbackHost(u.Hostname())
	switch {
	case production && loopback:
		return apperrors.Config(apperrors.ErrCodeInsecureTransport, "production signer must not point at a loopback address")
	case strings.EqualFold(u.Scheme, "https"):
	case strings.EqualFold(u.Scheme, "http") && loopback && !production:
	default:
		return apperrors.Config(apperrors.ErrCodeInsecureTransport, "remote signer proxy URL must use https")
	}

	if production && !r.MTLSRequired {
		return apperrors.Config(apperrors.ErrCodeMTLSRequired, "production signer requires mTLS")
	}
	if r.MTLSRequired && (r.MTLSCertFile == "" || r.MTLSKeyFile == "") {
		return apperrors.Config(apperrors.ErrCodeMTLSRequired, "mTLS client certificate and key files are required")
	}

	if strings.TrimSpace(r.ClientID) == "" || strings.TrimSpace(r.HMACSecret) == "" {
		return apperrors.Config(apperrors.ErrCodeMissingCredentials, "signer client id and HMAC secret are required")
	}
	if len(r.HMACSecret) < minHMACSecretLength || strings.ContainsAny(r.HMACSecret, " \t\r\n") {
		return apperrors.Config(apperrors.ErrCodeInvalidCredentials,
			fmt.Sprintf("HMAC secret must be at least %d bytes without whitespace", minHMACSecretLength))
	}
	if strings.ContainsAny(r.ClientID, " \t\r\n") {
		return apperrors.Config(apperrors.ErrCodeInvalidCredentials, "signer client id must not contain whitespace")
	}

	if !requesterPattern.MatchString(r.Requester) {
		return apperrors.Config(apperrors.ErrCodeInvalidRequester, "requester label must match [A-Za-z0-9._:-]{1,64}")
	}

	return nil
}

// IsLoopbackHost reports whether host names the local machine.
func IsLoopbackHost(host string) bool {
	host = strings.Trim(strings.ToLower(host), "[]")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
