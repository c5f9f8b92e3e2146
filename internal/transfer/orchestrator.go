// Package transfer turns a transfer intent into a signed, submitted and
// confirmed ERC-20 transfer using the wallet's session key for that token.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/better-wallet/session-keyring/internal/account"
	"github.com/better-wallet/session-keyring/internal/activity"
	"github.com/better-wallet/session-keyring/internal/logger"
	"github.com/better-wallet/session-keyring/internal/metrics"
	"github.com/better-wallet/session-keyring/internal/sessionkeys"
	"github.com/better-wallet/session-keyring/internal/signer"
	"github.com/better-wallet/session-keyring/internal/starknet"
)

// State is the orchestrator's position in a transfer.
type State string

const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateSigning   State = "signing"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateReverted  State = "reverted"
	StateFailed    State = "failed"
)

var (
	ErrInvalidIntent         = errors.New("invalid transfer intent")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrUnknownToken          = errors.New("unknown token")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrNoSessionKey          = errors.New("no active session key for token")
	ErrSessionKeyExpired     = errors.New("session key has expired")
	ErrSessionKeyNotYetValid = errors.New("session key is not yet valid")
	ErrTokenScopeMismatch    = errors.New("session key is scoped to a different token")
	ErrReceiptUnavailable    = errors.New("transaction receipt unavailable")
)

var insufficientL2GasPattern = regexp.MustCompile(`(?i)insufficient max l2\s*gas`)

// Fee bumps applied to the raw estimate when retrying an L2 gas revert.
const (
	l1GasAmountBump     = 30
	l1DataGasAmountBump = 120
	l2GasAmountBump     = 40
	priceBump           = 20
)

// Wallet identifies the account sending the transfer.
type Wallet struct {
	Address string
	Network string
}

// PrepareInput is either free text or a structured intent.
type PrepareInput struct {
	Text        string
	TokenSymbol string
	Amount      string
	To          string
}

// Action is a prepared transfer. It is built per attempt and never reused.
type Action struct {
	TokenSymbol      string
	TokenAddress     string
	To               string
	Amount           string
	AmountBaseUnits  *big.Int
	Calldata         []string
	SessionPublicKey string
	Warnings         []string
	Policy           sessionkeys.Policy
}

// Call is the ERC-20 transfer call of the action.
func (a *Action) Call() starknet.Call {
	return starknet.Call{
		ContractAddress: a.TokenAddress,
		Entrypoint:      "transfer",
		Calldata:        append([]string{}, a.Calldata...),
	}
}

// ExecuteOptions carries per-transfer metadata.
type ExecuteOptions struct {
	CorrelationID string
}

// Result is the terminal outcome of Execute.
type Result struct {
	State           State
	TransactionHash string
	ExecutionStatus string
	RevertReason    string
	Guidance        *Guidance
	Retried         bool
	SignerMode      signer.Mode
	SignerRequestID string
	CorrelationID   string
	Warnings        []string
}

// RevertedError is returned with a Result whose transaction reverted.
type RevertedError struct {
	TransactionHash string
	Reason          string
	Guidance        Guidance
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("transaction %s reverted: %s (%s)", e.TransactionHash, e.Reason, e.Guidance.Title)
}

// BalanceReader reads ERC-20 balances.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, owner string) (*big.Int, error)
}

// KeySource picks the session key for a token.
type KeySource interface {
	ActiveForToken(ctx context.Context, symbol string) (*sessionkeys.Policy, error)
}

// SignerFactory builds the signer for a session key, gating remote mode on
// pinning first.
type SignerFactory interface {
	NewSessionSigner(ctx context.Context, policy *sessionkeys.Policy) (*signer.SessionSigner, error)
}

// Executor submits invokes for the wallet. *account.Account implements it.
type Executor interface {
	Execute(ctx context.Context, calls []starknet.Call, opts *account.ExecuteOptions) (*account.InvokeResult, error)
	EstimateFee(ctx context.Context, calls []starknet.Call) (*starknet.FeeEstimate, error)
	WaitForReceipt(ctx context.Context, txHash string) (*starknet.Receipt, error)
	Receipt(ctx context.Context, txHash string) (*starknet.Receipt, error)
}

// AccountFactory binds a signer to the wallet address.
type AccountFactory func(address string, s signer.TransactionSigner) Executor

// Deps are the Orchestrator's collaborators.
type Deps struct {
	Balances      BalanceReader
	Keys          KeySource
	Signers       SignerFactory
	Accounts      AccountFactory
	Recorder      activity.Recorder
	Metrics       *metrics.Metrics
	OnStateChange func(State)
}

// Orchestrator runs transfers one at a time.
type Orchestrator struct {
	deps Deps
	now  func() time.Time

	mu    sync.Mutex
	state State
}

// NewOrchestrator creates an idle Orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, now: time.Now, state: StateIdle}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	if o.deps.OnStateChange != nil {
		o.deps.OnStateChange(s)
	}
}

// Prepare resolves and validates a transfer without signing anything.
func (o *Orchestrator) Prepare(ctx context.Context, wallet Wallet, in PrepareInput) (*Action, error) {
	o.setState(StatePreparing)
	action, err := o.prepare(ctx, wallet, in)
	if err != nil {
		o.setState(StateFailed)
		return nil, err
	}
	return action, nil
}

func (o *Orchestrator) prepare(ctx context.Context, wallet Wallet, in PrepareInput) (*Action, error) {
	intent := &Intent{Amount: in.Amount, TokenSymbol: strings.ToUpper(strings.TrimSpace(in.TokenSymbol)), To: strings.TrimSpace(in.To)}
	if strings.TrimSpace(in.Text) != "" {
		parsed, err := ParseIntent(in.Text)
		if err != nil {
			return nil, err
		}
		intent = parsed
	}
	if err := intent.validate(); err != nil {
		return nil, err
	}

	token, err := LookupToken(wallet.Network, intent.TokenSymbol)
	if err != nil {
		return nil, err
	}
	amount, err := ToBaseUnits(intent.Amount, token.Decimals)
	if err != nil {
		return nil, err
	}
	amountFelts, err := starknet.U256Calldata(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	balance, err := o.deps.Balances.BalanceOf(ctx, token.Address, wallet.Address)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s %s, need %s", ErrInsufficientBalance,
			FormatBaseUnits(balance, token.Decimals), token.Symbol, intent.Amount)
	}

	policy, err := o.deps.Keys.ActiveForToken(ctx, token.Symbol)
	if err != nil {
		if errors.Is(err, sessionkeys.ErrNotFound) {
			return nil, fmt.Errorf("%w %s", ErrNoSessionKey, token.Symbol)
		}
		return nil, err
	}

	now := o.now()
	if policy.Expired(now) {
		return nil, ErrSessionKeyExpired
	}
	if policy.NotYetValid(now) {
		return nil, ErrSessionKeyNotYetValid
	}
	if !starknet.EqualFelt(policy.TokenAddress, token.Address) {
		return nil, fmt.Errorf("%w: key allows %s, transfer moves %s", ErrTokenScopeMismatch, policy.TokenAddress, token.Address)
	}

	var warnings []string
	if limit, err := policy.SpendingLimitInt(); err == nil && amount.Cmp(limit) > 0 {
		warnings = append(warnings, fmt.Sprintf("amount exceeds the session key spending cap of %s %s; the account contract may reject it",
			FormatBaseUnits(limit, token.Decimals), token.Symbol))
	}
	if allowed := sessionkeys.UnpadAllowedContracts(policy.AllowedContracts); len(allowed) > 0 && !containsFelt(allowed, token.Address) {
		warnings = append(warnings, "token contract is not in the session key's allowed contracts")
	}

	return &Action{
		TokenSymbol:      token.Symbol,
		TokenAddress:     token.Address,
		To:               starknet.NormalizeFelt(intent.To),
		Amount:           intent.Amount,
		AmountBaseUnits:  amount,
		Calldata:         append([]string{starknet.NormalizeFelt(intent.To)}, amountFelts...),
		SessionPublicKey: policy.PublicKey,
		Warnings:         warnings,
		Policy:           *policy,
	}, nil
}

// Execute signs, submits and waits for action. A transaction that reverts
// because of insufficient L2 gas is retried once with bumped bounds; if the
// retry fails in any way the first outcome stands. A reverted outcome returns
// the Result together with a *RevertedError.
func (o *Orchestrator) Execute(ctx context.Context, wallet Wallet, action *Action, opts ExecuteOptions) (*Result, error) {
	if opts.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, opts.CorrelationID)
	}
	ctx, correlationID := logger.EnsureCorrelationID(ctx)

	result := &Result{CorrelationID: correlationID, Warnings: action.Warnings}

	o.setState(StateSigning)
	policy := action.Policy
	sessionSigner, err := o.deps.Signers.NewSessionSigner(ctx, &policy)
	if err != nil {
		return o.fail(ctx, action, result, err)
	}
	result.SignerMode = sessionSigner.Mode()

	acct := o.deps.Accounts(wallet.Address, sessionSigner)
	calls := []starknet.Call{action.Call()}

	invoke, err := acct.Execute(ctx, calls, nil)
	if err != nil {
		return o.fail(ctx, action, result, err)
	}
	result.TransactionHash = invoke.TransactionHash
	result.SignerRequestID = sessionSigner.LastRequestID()
	o.setState(StateSubmitted)

	receipt, err := waitReceipt(ctx, acct, invoke.TransactionHash)
	if err != nil {
		return o.fail(ctx, action, result, err)
	}

	if receipt.Reverted() && insufficientL2GasPattern.MatchString(receipt.RevertReason) {
		if retryHash, retryReceipt, ok := o.retryWithBumpedFees(ctx, acct, calls); ok {
			result.TransactionHash = retryHash
			result.SignerRequestID = sessionSigner.LastRequestID()
			receipt = retryReceipt
		}
		result.Retried = true
	}

	result.ExecutionStatus = receipt.ExecutionStatus
	if receipt.Reverted() {
		guidance := DescribeRevert(receipt.RevertReason)
		result.State = StateReverted
		result.RevertReason = receipt.RevertReason
		result.Guidance = &guidance
		o.finish(ctx, action, result, "")
		return result, &RevertedError{TransactionHash: result.TransactionHash, Reason: receipt.RevertReason, Guidance: guidance}
	}

	result.State = StateConfirmed
	o.finish(ctx, action, result, "")
	return result, nil
}

// retryWithBumpedFees re-estimates and resubmits once. ok is false on any
// failure, in which case the caller keeps the first outcome.
func (o *Orchestrator) retryWithBumpedFees(ctx context.Context, acct Executor, calls []starknet.Call) (string, *starknet.Receipt, bool) {
	log := logger.FromContext(ctx)

	estimate, err := acct.EstimateFee(ctx, calls)
	if err != nil {
		log.Warn("fee bump retry: estimate failed", "error", err)
		return "", nil, false
	}
	bounds, err := BumpedBounds(estimate)
	if err != nil {
		log.Warn("fee bump retry: bad estimate", "error", err)
		return "", nil, false
	}

	invoke, err := acct.Execute(ctx, calls, &account.ExecuteOptions{ResourceBounds: &bounds})
	if err != nil {
		log.Warn("fee bump retry: submit failed", "error", err)
		return "", nil, false
	}
	receipt, err := waitReceipt(ctx, acct, invoke.TransactionHash)
	if err != nil {
		log.Warn("fee bump retry: receipt unavailable", "tx_hash", invoke.TransactionHash, "error", err)
		return "", nil, false
	}
	log.Info("fee bump retry submitted", "tx_hash", invoke.TransactionHash, "execution_status", receipt.ExecutionStatus)
	return invoke.TransactionHash, receipt, true
}

// BumpedBounds raises the raw estimate: L1 gas +30% amount, L1 data gas
// +120% amount, L2 gas +40% amount, every price +20%.
func BumpedBounds(estimate *starknet.FeeEstimate) (starknet.ResourceBounds, error) {
	if estimate == nil {
		return starknet.ResourceBounds{}, fmt.Errorf("empty fee estimate")
	}
	raw, err := estimate.ResourceBounds()
	if err != nil {
		return starknet.ResourceBounds{}, err
	}
	return starknet.ResourceBounds{
		L1Gas:     raw.L1Gas.Bump(l1GasAmountBump, priceBump),
		L1DataGas: raw.L1DataGas.Bump(l1DataGasAmountBump, priceBump),
		L2Gas:     raw.L2Gas.Bump(l2GasAmountBump, priceBump),
	}, nil
}

// waitReceipt falls back to a direct fetch when the wait itself errors.
func waitReceipt(ctx context.Context, acct Executor, txHash string) (*starknet.Receipt, error) {
	receipt, err := acct.WaitForReceipt(ctx, txHash)
	if err == nil {
		return receipt, nil
	}
	logger.FromContext(ctx).Warn("receipt wait failed, fetching directly", "tx_hash", txHash, "error", err)

	receipt, fetchErr := acct.Receipt(ctx, txHash)
	if fetchErr != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrReceiptUnavailable, txHash, err)
	}
	return receipt, nil
}

func (o *Orchestrator) fail(ctx context.Context, action *Action, result *Result, err error) (*Result, error) {
	result.State = StateFailed
	o.finish(ctx, action, result, err.Error())
	return result, err
}

func (o *Orchestrator) finish(ctx context.Context, action *Action, result *Result, errMsg string) {
	o.setState(result.State)
	o.deps.Metrics.TransferOutcome(string(result.State), string(result.SignerMode))

	if o.deps.Recorder == nil {
		return
	}
	rec := &activity.Record{
		Action:          "transfer",
		CorrelationID:   result.CorrelationID,
		State:           string(result.State),
		TransactionHash: result.TransactionHash,
		ExecutionStatus: result.ExecutionStatus,
		RevertReason:    result.RevertReason,
		SignerMode:      string(result.SignerMode),
		SignerRequestID: result.SignerRequestID,
		SessionKey:      action.SessionPublicKey,
		Token:           action.TokenSymbol,
		To:              action.To,
		Amount:          action.Amount,
		Retried:         result.Retried,
		Error:           errMsg,
		CreatedAt:       o.now().UTC(),
	}
	if err := o.deps.Recorder.Record(ctx, rec); err != nil {
		logger.FromContext(ctx).Error("failed to record transfer activity", "error", err)
	}
}

func containsFelt(list []string, v string) bool {
	for _, item := range list {
		if starknet.EqualFelt(item, v) {
			return true
		}
	}
	return false
}
