// Package account builds, signs and submits v3 invoke transactions for one
// account contract.
package account

import (
	"context"
	"fmt"
	"math/big"

	"github.com/better-wallet/session-keyring/internal/logger"
	"github.com/better-wallet/session-keyring/internal/signer"
	"github.com/better-wallet/session-keyring/internal/starknet"
)

// ChainClient is the chain access an Account needs. *starknet.Client
// implements it.
type ChainClient interface {
	ChainID(ctx context.Context) (string, error)
	Nonce(ctx context.Context, address string) (*big.Int, error)
	EstimateFee(ctx context.Context, tx *starknet.InvokeTransaction) (*starknet.FeeEstimate, error)
	AddInvokeTransaction(ctx context.Context, tx *starknet.InvokeTransaction) (string, error)
	TransactionReceipt(ctx context.Context, txHash string) (*starknet.Receipt, error)
	WaitForReceipt(ctx context.Context, txHash string, opts starknet.WaitOptions) (*starknet.Receipt, error)
}

// ExecuteOptions overrides fee handling for one Execute call.
type ExecuteOptions struct {
	// ResourceBounds skips estimation when set.
	ResourceBounds *starknet.ResourceBounds
}

// InvokeResult describes a submitted transaction.
type InvokeResult struct {
	TransactionHash string
	Nonce           *big.Int
	ResourceBounds  starknet.ResourceBounds
}

// Account signs invokes for address with the injected signer.
type Account struct {
	address string
	chain   ChainClient
	signer  signer.TransactionSigner
	wait    starknet.WaitOptions
}

// Option configures an Account
type Option func(*Account)

// WithWaitOptions sets the receipt polling policy.
func WithWaitOptions(opts starknet.WaitOptions) Option {
	return func(a *Account) { a.wait = opts }
}

// New creates an Account.
func New(address string, chain ChainClient, s signer.TransactionSigner, opts ...Option) *Account {
	a := &Account{
		address: starknet.NormalizeFelt(address),
		chain:   chain,
		signer:  s,
		wait:    starknet.DefaultWaitOptions(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Account) Address() string { return a.address }

func (a *Account) Signer() signer.TransactionSigner { return a.signer }

// EstimateFee returns the raw fee estimate for calls at the current nonce.
func (a *Account) EstimateFee(ctx context.Context, calls []starknet.Call) (*starknet.FeeEstimate, error) {
	calldata, err := starknet.EncodeExecuteCalldata(calls)
	if err != nil {
		return nil, err
	}
	nonce, err := a.chain.Nonce(ctx, a.address)
	if err != nil {
		return nil, err
	}
	return a.chain.EstimateFee(ctx, starknet.NewInvokeTransaction(a.address, calldata, nonce, starknet.ResourceBounds{}))
}

// Execute signs and submits calls as a single invoke.
func (a *Account) Execute(ctx context.Context, calls []starknet.Call, opts *ExecuteOptions) (*InvokeResult, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("no calls to execute")
	}
	calldata, err := starknet.EncodeExecuteCalldata(calls)
	if err != nil {
		return nil, fmt.Errorf("failed to encode calls: %w", err)
	}

	chainID, err := a.chain.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := a.chain.Nonce(ctx, a.address)
	if err != nil {
		return nil, err
	}

	var bounds starknet.ResourceBounds
	if opts != nil && opts.ResourceBounds != nil {
		bounds = *opts.ResourceBounds
	} else {
		estimate, err := a.chain.EstimateFee(ctx, starknet.NewInvokeTransaction(a.address, calldata, nonce, starknet.ResourceBounds{}))
		if err != nil {
			return nil, err
		}
		bounds, err = starknet.BoundsFromEstimate(estimate)
		if err != nil {
			return nil, fmt.Errorf("failed to derive resource bounds: %w", err)
		}
	}

	signature, err := a.signer.SignTransaction(ctx, &signer.TransactionRequest{
		AccountAddress: a.address,
		ChainID:        chainID,
		Nonce:          nonce,
		Calls:          calls,
		Calldata:       calldata,
		ResourceBounds: bounds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	tx := starknet.NewInvokeTransaction(a.address, calldata, nonce, bounds)
	tx.Signature = signature

	hash, err := a.chain.AddInvokeTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("invoke submitted",
		"account", a.address,
		"tx_hash", hash,
		"nonce", nonce.String(),
		"calls", len(calls),
	)

	return &InvokeResult{TransactionHash: hash, Nonce: nonce, ResourceBounds: bounds}, nil
}

// WaitForReceipt waits with the account's polling policy.
func (a *Account) WaitForReceipt(ctx context.Context, txHash string) (*starknet.Receipt, error) {
	return a.chain.WaitForReceipt(ctx, txHash, a.wait)
}

// Receipt fetches a receipt once.
func (a *Account) Receipt(ctx context.Context, txHash string) (*starknet.Receipt, error) {
	return a.chain.TransactionReceipt(ctx, txHash)
}
