package sessionkeys

import (
	"context"
	"fmt"
	"time"

	"github.com/better-wallet/session-keyring/internal/account"
	"github.com/better-wallet/session-keyring/internal/logger"
	"github.com/better-wallet/session-keyring/internal/starknet"
)

// OwnerAccount submits calls signed by the account owner. *account.Account
// implements it.
type OwnerAccount interface {
	Address() string
	Execute(ctx context.Context, calls []starknet.Call, opts *account.ExecuteOptions) (*account.InvokeResult, error)
	WaitForReceipt(ctx context.Context, txHash string) (*starknet.Receipt, error)
}

// ChainReader performs read-only contract calls.
type ChainReader interface {
	Call(ctx context.Context, call starknet.Call) ([]string, error)
}

// RevertedError reports an owner transaction that executed but reverted.
type RevertedError struct {
	TransactionHash string
	Reason          string
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("transaction %s reverted: %s", e.TransactionHash, e.Reason)
}

// Registrar writes session key policies to the account contract with the
// owner identity and keeps local records in step.
type Registrar struct {
	store *Store
	owner OwnerAccount
	chain ChainReader
	now   func() time.Time
}

// NewRegistrar creates a Registrar.
func NewRegistrar(store *Store, owner OwnerAccount, chain ChainReader) *Registrar {
	return &Registrar{store: store, owner: owner, chain: chain, now: time.Now}
}

// Register writes the key's policy on-chain. Re-registering overwrites the
// on-chain policy for that key.
func (r *Registrar) Register(ctx context.Context, publicKey string) (*Policy, error) {
	policy, err := r.store.Get(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	if policy.Revoked() {
		return nil, ErrKeyRevoked
	}

	call, err := RegisterCall(r.owner.Address(), policy)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration: %w", err)
	}
	txHash, err := r.submit(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("failed to register session key: %w", err)
	}

	updated, err := r.store.MarkRegistered(ctx, policy.PublicKey, txHash, r.now())
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("session key registered", "public_key", policy.PublicKey, "tx_hash", txHash)
	return updated, nil
}

// Revoke revokes one key on-chain, then stamps it and deletes its secret.
func (r *Registrar) Revoke(ctx context.Context, publicKey string) (string, error) {
	policy, err := r.store.Get(ctx, publicKey)
	if err != nil {
		return "", err
	}

	txHash, err := r.submit(ctx, RevokeCall(r.owner.Address(), policy.PublicKey))
	if err != nil {
		return "", fmt.Errorf("failed to revoke session key: %w", err)
	}
	if err := r.store.MarkRevoked(ctx, []string{policy.PublicKey}, txHash, r.now()); err != nil {
		return "", err
	}
	logger.FromContext(ctx).Info("session key revoked", "public_key", policy.PublicKey, "tx_hash", txHash)
	return txHash, nil
}

// RevokeAll calls emergency_revoke_all and stamps every stored key, including
// already revoked ones, with one timestamp and the new transaction hash.
func (r *Registrar) RevokeAll(ctx context.Context) (string, error) {
	txHash, err := r.submit(ctx, RevokeAllCall(r.owner.Address()))
	if err != nil {
		return "", fmt.Errorf("failed to revoke all session keys: %w", err)
	}

	policies, err := r.store.List(ctx)
	if err != nil {
		return "", err
	}
	keys := make([]string, 0, len(policies))
	for _, p := range policies {
		keys = append(keys, p.PublicKey)
	}
	if err := r.store.MarkRevoked(ctx, keys, txHash, r.now()); err != nil {
		return "", err
	}
	logger.FromContext(ctx).Warn("all session keys revoked", "count", len(keys), "tx_hash", txHash)
	return txHash, nil
}

// IsValidOnchain reports whether the account still accepts the key. Any read
// or decode failure counts as invalid.
func (r *Registrar) IsValidOnchain(ctx context.Context, publicKey string) bool {
	result, err := r.chain.Call(ctx, SessionDataCall(r.owner.Address(), publicKey))
	if err != nil {
		logger.FromContext(ctx).Warn("session data read failed", "public_key", publicKey, "error", err)
		return false
	}
	data, err := ParseSessionData(result)
	if err != nil {
		logger.FromContext(ctx).Warn("session data decode failed", "public_key", publicKey, "error", err)
		return false
	}
	return data.ValidAt(r.now().Unix())
}

func (r *Registrar) submit(ctx context.Context, call starknet.Call) (string, error) {
	res, err := r.owner.Execute(ctx, []starknet.Call{call}, nil)
	if err != nil {
		return "", err
	}
	receipt, err := r.owner.WaitForReceipt(ctx, res.TransactionHash)
	if err != nil {
		return "", err
	}
	if receipt.Reverted() {
		return "", &RevertedError{TransactionHash: res.TransactionHash, Reason: receipt.RevertReason}
	}
	return res.TransactionHash, nil
}
