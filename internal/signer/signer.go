// Package signer produces account signatures for invoke transactions, either
// with a locally held STARK key or through the remote keyring proxy.
package signer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/better-wallet/session-keyring/internal/starknet"
)

// TransactionRequest is everything a signer may need to authorize one
// invoke transaction.
type TransactionRequest struct {
	AccountAddress string
	ChainID        string
	Nonce          *big.Int
	Calls          []starknet.Call
	// Calldata is the encoded __execute__ argument for Calls.
	Calldata       []string
	ResourceBounds starknet.ResourceBounds
}

// TransactionSigner is the capability the account executor relies on.
type TransactionSigner interface {
	PublicKey(ctx context.Context) (string, error)
	SignTransaction(ctx context.Context, req *TransactionRequest) ([]string, error)
}

// ErrSigningWindowExpired is returned before any I/O when the session key
// window has already closed.
var ErrSigningWindowExpired = errors.New("session key signing window has expired")

// UnsupportedError reports a signing capability the signer refuses to provide.
type UnsupportedError struct {
	Operation string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported by session key signers", e.Operation)
}

// KeySigner signs with a locally held key and returns [r, s]. It is used for
// the owner identity.
type KeySigner struct {
	key    *starknet.PrivateKey
	hasher TransactionHasher
}

// NewKeySigner creates a KeySigner. A nil hasher selects the default.
func NewKeySigner(key *starknet.PrivateKey, hasher TransactionHasher) *KeySigner {
	if hasher == nil {
		hasher = InvokeHasher{}
	}
	return &KeySigner{key: key, hasher: hasher}
}

func (s *KeySigner) PublicKey(ctx context.Context) (string, error) {
	return s.key.PublicKeyHex(), nil
}

func (s *KeySigner) SignTransaction(ctx context.Context, req *TransactionRequest) ([]string, error) {
	hash, err := s.hasher.Hash(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash transaction: %w", err)
	}
	r, sig, err := s.key.Sign(hash)
	if err != nil {
		return nil, err
	}
	return []string{starknet.FeltHex(r), starknet.FeltHex(sig)}, nil
}

var (
	_ TransactionSigner = (*KeySigner)(nil)
	_ TransactionSigner = (*SessionSigner)(nil)
)
