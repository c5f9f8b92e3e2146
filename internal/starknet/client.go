// Package starknet is the chain client used by the session key registrar,
// the account executor and the transfer orchestrator. It speaks Starknet
// JSON-RPC through the resilient transport in internal/rpc.
package starknet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/better-wallet/session-keyring/internal/rpc"
)

// Starknet JSON-RPC application error codes.
const (
	ErrCodeContractNotFound = 20
	ErrCodeTxHashNotFound   = 29
)

const latestBlock = "latest"

// WaitOptions bounds receipt polling.
type WaitOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultWaitOptions polls every 3s for up to 2 minutes.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{Interval: 3 * time.Second, MaxAttempts: 40}
}

// Client wraps the JSON-RPC transport for one network
type Client struct {
	transport *rpc.Transport
	url       string
	opts      rpc.Options

	mu      sync.Mutex
	chainID string
}

// NewClient creates a new chain client. The chain id is detected lazily.
func NewClient(transport *rpc.Transport, rpcURL string, opts rpc.Options) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}
	if transport == nil {
		transport = rpc.NewTransport()
	}
	return &Client{
		transport: transport,
		url:       rpcURL,
		opts:      opts,
	}, nil
}

func (c *Client) call(ctx context.Context, method string, result any, params ...any) error {
	return c.transport.Call(ctx, c.url, method, result, params, c.opts)
}

// ChainID returns the network chain id felt, cached after the first call.
func (c *Client) ChainID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var chainID string
	if err := c.call(ctx, "starknet_chainId", &chainID); err != nil {
		return "", fmt.Errorf("failed to get chain ID: %w", err)
	}

	c.mu.Lock()
	c.chainID = chainID
	c.mu.Unlock()
	return chainID, nil
}

// Call executes a read-only entry point against the latest block.
func (c *Client) Call(ctx context.Context, call Call) ([]string, error) {
	calldata := call.Calldata
	if calldata == nil {
		calldata = []string{}
	}
	request := map[string]any{
		"contract_address":     call.ContractAddress,
		"entry_point_selector": Selector(call.Entrypoint),
		"calldata":             calldata,
	}

	var result []string
	if err := c.call(ctx, "starknet_call", &result, request, latestBlock); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", call.Entrypoint, err)
	}
	return result, nil
}

// ClassHashAt returns the class hash deployed at address.
func (c *Client) ClassHashAt(ctx context.Context, address string) (string, error) {
	var classHash string
	if err := c.call(ctx, "starknet_getClassHashAt", &classHash, latestBlock, address); err != nil {
		return "", fmt.Errorf("failed to get class hash: %w", err)
	}
	return classHash, nil
}

// IsDeployed reports whether a contract exists at address.
func (c *Client) IsDeployed(ctx context.Context, address string) (bool, error) {
	_, err := c.ClassHashAt(ctx, address)
	if err == nil {
		return true, nil
	}
	if HasRPCCode(err, ErrCodeContractNotFound) {
		return false, nil
	}
	return false, err
}

// Nonce returns the account nonce at the latest block.
func (c *Client) Nonce(ctx context.Context, address string) (*big.Int, error) {
	var nonce string
	if err := c.call(ctx, "starknet_getNonce", &nonce, latestBlock, address); err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	v, err := ParseFelt(nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to parse nonce: %w", err)
	}
	return v, nil
}

// EstimateFee estimates an invoke transaction without validating its signature.
func (c *Client) EstimateFee(ctx context.Context, tx *InvokeTransaction) (*FeeEstimate, error) {
	var estimates []FeeEstimate
	err := c.call(ctx, "starknet_estimateFee", &estimates,
		[]*InvokeTransaction{tx}, []string{"SKIP_VALIDATE"}, latestBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate fee: %w", err)
	}
	if len(estimates) == 0 {
		return nil, fmt.Errorf("failed to estimate fee: empty result")
	}
	return &estimates[0], nil
}

// AddInvokeTransaction broadcasts a signed invoke transaction.
func (c *Client) AddInvokeTransaction(ctx context.Context, tx *InvokeTransaction) (string, error) {
	var result struct {
		TransactionHash string `json:"transaction_hash"`
	}
	if err := c.call(ctx, "starknet_addInvokeTransaction", &result, tx); err != nil {
		return "", fmt.Errorf("failed to submit transaction: %w", err)
	}
	return result.TransactionHash, nil
}

// TransactionReceipt fetches a receipt by hash.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt Receipt
	if err := c.call(ctx, "starknet_getTransactionReceipt", &receipt, txHash); err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return &receipt, nil
}

// WaitForReceipt polls until the transaction has an execution status or the
// attempts run out. A reverted receipt is returned without error.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string, opts WaitOptions) (*Receipt, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	var receipt *Receipt
	operation := func() error {
		r, err := c.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		if r.ExecutionStatus == "" {
			return fmt.Errorf("transaction %s not yet executed", txHash)
		}
		receipt = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.Interval), uint64(opts.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("transaction %s not accepted after %d attempts: %w", txHash, opts.MaxAttempts, err)
	}
	return receipt, nil
}

// BalanceOf reads an ERC-20 u256 balance.
func (c *Client) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	result, err := c.Call(ctx, Call{
		ContractAddress: token,
		Entrypoint:      "balanceOf",
		Calldata:        []string{owner},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	balance, err := ParseU256(result, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balance: %w", err)
	}
	return balance, nil
}

// HasRPCCode reports whether err carries a JSON-RPC error with code.
func HasRPCCode(err error, code int) bool {
	var rpcErr gethrpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == code
}
