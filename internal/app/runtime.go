// Package app composes the session-key subsystem from configuration: secure
// storage, the chain client, the signer adapters and the transfer
// orchestrator.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/better-wallet/session-keyring/internal/account"
	"github.com/better-wallet/session-keyring/internal/activity"
	"github.com/better-wallet/session-keyring/internal/config"
	"github.com/better-wallet/session-keyring/internal/logger"
	"github.com/better-wallet/session-keyring/internal/metrics"
	"github.com/better-wallet/session-keyring/internal/pinning"
	"github.com/better-wallet/session-keyring/internal/rpc"
	"github.com/better-wallet/session-keyring/internal/securestore"
	"github.com/better-wallet/session-keyring/internal/sessionkeys"
	"github.com/better-wallet/session-keyring/internal/signer"
	"github.com/better-wallet/session-keyring/internal/signerclient"
	"github.com/better-wallet/session-keyring/internal/starknet"
	"github.com/better-wallet/session-keyring/internal/transfer"
)

// ErrOwnerKeyMissing is returned by owner operations when no owner key is
// configured.
var ErrOwnerKeyMissing = errors.New("OWNER_PRIVATE_KEY is required for owner operations")

// ErrAccountMissing is returned when ACCOUNT_ADDRESS is not configured.
var ErrAccountMissing = errors.New("ACCOUNT_ADDRESS is required")

// Runtime owns the long-lived collaborators. One Runtime serves one wallet.
type Runtime struct {
	cfg     *config.Config
	metrics *metrics.Metrics

	transport *rpc.Transport
	chain     *starknet.Client

	kv       securestore.Store
	postgres *securestore.PostgresStore
	keys     *sessionkeys.Store
	recorder activity.Recorder

	pinner *pinning.TLSPinner
	gate   *pinning.Gate

	mu     sync.Mutex
	remote *signerclient.Client
}

// Option configures a Runtime
type Option func(*runtimeOptions)

type runtimeOptions struct {
	kv       securestore.Store
	recorder activity.Recorder
	metrics  *metrics.Metrics
}

// WithSecureStore replaces the configured storage backend.
func WithSecureStore(kv securestore.Store) Option {
	return func(o *runtimeOptions) { o.kv = kv }
}

// WithRecorder replaces the default activity recorder.
func WithRecorder(r activity.Recorder) Option {
	return func(o *runtimeOptions) { o.recorder = r }
}

// WithMetrics shares an existing metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *runtimeOptions) { o.metrics = m }
}

// New builds a Runtime. Nothing touches the chain or the signer proxy until
// an operation needs it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := &runtimeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	r := &Runtime{cfg: cfg, metrics: o.metrics}

	r.transport = rpc.NewTransport(
		rpc.WithRateLimit(cfg.RPC.RateLimitRPS, 1),
		rpc.WithMetrics(r.metrics),
	)
	chain, err := starknet.NewClient(r.transport, cfg.RPC.URL, rpc.Options{
		Timeout:      cfg.RPC.Timeout(),
		MaxRetries:   cfg.RPC.MaxRetries,
		BaseDelay:    cfg.RPC.BaseDelay(),
		MaxDelay:     cfg.RPC.MaxDelay(),
		FallbackURLs: cfg.RPC.FallbackURLs,
	})
	if err != nil {
		r.Close()
		return nil, err
	}
	r.chain = chain

	r.kv = o.kv
	if r.kv == nil {
		if r.kv, err = r.openSecureStore(ctx); err != nil {
			r.Close()
			return nil, err
		}
	}
	r.keys = sessionkeys.NewStore(r.kv)

	r.recorder = o.recorder
	if r.recorder == nil {
		if r.recorder, err = r.defaultRecorder(ctx); err != nil {
			r.Close()
			return nil, err
		}
	}

	var base *tls.Config
	if cfg.SignerMode == config.SignerModeRemote {
		if base, err = pinning.ClientTLSConfig(cfg.Remote.CAFile, cfg.Remote.MTLSCertFile,
			cfg.Remote.MTLSKeyFile, cfg.Remote.MTLSRequired); err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to load signer TLS material: %w", err)
		}
	}
	r.pinner = pinning.NewTLSPinner(base)
	r.gate = pinning.NewGate(r.pinner, r.metrics)

	slog.Info("session keyring runtime ready",
		"network", cfg.Network,
		"signer_mode", cfg.SignerMode,
		"store_backend", cfg.Store.Backend,
		"kms_provider", cfg.KMS.Provider,
	)
	return r, nil
}

func (r *Runtime) openSecureStore(ctx context.Context) (securestore.Store, error) {
	var backend securestore.Store
	switch r.cfg.Store.Backend {
	case "postgres":
		pg, err := securestore.NewPostgresStore(ctx, r.cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		r.postgres = pg
		backend = pg
	default:
		backend = securestore.NewMemoryStore()
	}

	if r.cfg.Store.Backend != "postgres" && (r.cfg.KMS.Provider == "" || r.cfg.KMS.Provider == "local") &&
		r.cfg.KMS.LocalMasterKey == "" {
		return backend, nil
	}

	kms, err := securestore.NewKMSProvider(ctx, r.cfg.KMS)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KMS provider: %w", err)
	}
	return securestore.NewEncryptedStore(backend, kms), nil
}

func (r *Runtime) defaultRecorder(ctx context.Context) (activity.Recorder, error) {
	recorders := activity.MultiRecorder{activity.NewLogRecorder(slog.Default())}
	if r.postgres != nil {
		pgRecorder := activity.NewPostgresRecorder(r.postgres.DB())
		if err := pgRecorder.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		recorders = append(recorders, pgRecorder)
	}
	return recorders, nil
}

// Close releases the RPC clients and the database pool.
func (r *Runtime) Close() {
	if r.transport != nil {
		r.transport.Close()
	}
	if r.postgres != nil {
		r.postgres.Close()
	}
}

func (r *Runtime) Config() *config.Config { return r.cfg }

func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

func (r *Runtime) Chain() *starknet.Client { return r.chain }

func (r *Runtime) Keys() *sessionkeys.Store { return r.keys }

func (r *Runtime) Recorder() activity.Recorder { return r.recorder }

// Wallet is the configured account on the configured network.
func (r *Runtime) Wallet() (transfer.Wallet, error) {
	if r.cfg.AccountAddress == "" {
		return transfer.Wallet{}, ErrAccountMissing
	}
	return transfer.Wallet{Address: r.cfg.AccountAddress, Network: r.cfg.Network}, nil
}

// NewSessionSigner builds the signer for policy in the configured mode. An
// expired window fails before any remote setup. Remote mode validates the signer configuration and installs certificate
// pins before any request can be sent.
func (r *Runtime) NewSessionSigner(ctx context.Context, policy *sessionkeys.Policy) (*signer.SessionSigner, error) {
	if policy.Revoked() {
		return nil, sessionkeys.ErrKeyRevoked
	}
	if policy.Expired(time.Now()) {
		return nil, signer.ErrSigningWindowExpired
	}

	if r.cfg.SignerMode != config.SignerModeRemote {
		return signer.NewLocalSessionSigner(policy.PublicKey, policy.ValidUntil, r.keys, nil), nil
	}

	client, err := r.remoteClient(ctx)
	if err != nil {
		return nil, err
	}
	return signer.NewRemoteSessionSigner(policy.PublicKey, policy.ValidUntil, client, signer.RemoteContext{
		Requester:     r.cfg.Remote.Requester,
		Tool:          r.cfg.Remote.Tool,
		ClientID:      r.cfg.Remote.ClientID,
		CorrelationID: logger.CorrelationID(ctx),
	}), nil
}

func (r *Runtime) remoteClient(ctx context.Context) (*signerclient.Client, error) {
	remote := r.cfg.Remote
	production := r.cfg.IsProduction()

	if err := remote.Validate(production); err != nil {
		return nil, err
	}
	if err := r.gate.Ensure(ctx, pinning.Config{
		ProxyURL:          remote.ProxyURL,
		PinnedHashes:      remote.PinnedHashes,
		IncludeSubdomains: remote.PinIncludeSubdomains,
		ExpirationDate:    remote.PinExpiration,
	}); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remote == nil {
		r.remote = signerclient.New(signerclient.Config{
			BaseURL:               remote.ProxyURL,
			Timeout:               remote.RequestTimeout(),
			HTTPClient:            &http.Client{Transport: r.pinner.Transport()},
			Authenticator:         signerclient.NewHMACAuthenticator(remote.ClientID, remote.HMACSecret, remote.KeyID),
			AllowInsecureLoopback: !production,
			Metrics:               r.metrics,
		})
	}
	return r.remote, nil
}

// OwnerAccount is the account executor signing with the owner key.
func (r *Runtime) OwnerAccount() (*account.Account, error) {
	if r.cfg.AccountAddress == "" {
		return nil, ErrAccountMissing
	}
	if r.cfg.OwnerPrivateKey == "" {
		return nil, ErrOwnerKeyMissing
	}
	key, err := starknet.PrivateKeyFromHex(r.cfg.OwnerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid OWNER_PRIVATE_KEY: %w", err)
	}
	return account.New(r.cfg.AccountAddress, r.chain, signer.NewKeySigner(key, nil)), nil
}

// Registrar registers and revokes session keys with the owner account.
func (r *Runtime) Registrar() (*sessionkeys.Registrar, error) {
	owner, err := r.OwnerAccount()
	if err != nil {
		return nil, err
	}
	return sessionkeys.NewRegistrar(r.keys, owner, r.chain), nil
}

// IsValidOnchain reads the key's session data. It needs the account address
// but not the owner key.
func (r *Runtime) IsValidOnchain(ctx context.Context, publicKey string) (bool, error) {
	if r.cfg.AccountAddress == "" {
		return false, ErrAccountMissing
	}
	reader := sessionkeys.NewRegistrar(r.keys, account.New(r.cfg.AccountAddress, r.chain, nil), r.chain)
	return reader.IsValidOnchain(ctx, publicKey), nil
}

// Orchestrator returns a fresh orchestrator for one transfer.
func (r *Runtime) Orchestrator(onStateChange func(transfer.State)) *transfer.Orchestrator {
	return transfer.NewOrchestrator(transfer.Deps{
		Balances: r.chain,
		Keys:     r.keys,
		Signers:  r,
		Accounts: func(address string, s signer.TransactionSigner) transfer.Executor {
			return account.New(address, r.chain, s)
		},
		Recorder:      r.recorder,
		Metrics:       r.metrics,
		OnStateChange: onStateChange,
	})
}

var _ transfer.SignerFactory = (*Runtime)(nil)
