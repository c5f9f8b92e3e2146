package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Kind is a user-facing failure category.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindOffline           Kind = "offline"
	KindRateLimited       Kind = "rate_limited"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindNonceMismatch     Kind = "nonce_mismatch"
	KindChainMismatch     Kind = "chain_mismatch"
	KindPolicyRevert      Kind = "policy_revert"
	KindContractNotFound  Kind = "contract_not_found"
	KindUnknown           Kind = "unknown"
)

// Starknet JSON-RPC error code for a missing contract.
const codeContractNotFound = 20

// UserError is a classified failure whose Message is safe to show.
type UserError struct {
	Kind    Kind
	Message string
}

func (e UserError) Error() string {
	return e.Message
}

var kindMessages = map[Kind]string{
	KindTimeout:           "The network took too long to respond. Please try again.",
	KindOffline:           "Unable to reach the network. Check your connection and try again.",
	KindRateLimited:       "The network is rate limiting requests. Please wait a moment and retry.",
	KindInsufficientFunds: "The account does not have enough funds for this transaction and its fee.",
	KindNonceMismatch:     "The account nonce changed while sending. Please retry the transaction.",
	KindChainMismatch:     "The wallet and the RPC endpoint are on different networks.",
	KindPolicyRevert:      "The session key policy rejected this transaction.",
	KindContractNotFound:  "The target contract is not deployed on this network.",
	KindUnknown:           "Something went wrong while talking to the network.",
}

// Classify maps any error to a user-facing kind and message. The raw error
// text is never part of the result.
func Classify(err error) UserError {
	kind := classifyKind(err)
	return UserError{Kind: kind, Message: kindMessages[kind]}
}

func classifyKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return KindRateLimited
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeContractNotFound {
		return KindContractNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded", "aborted"):
		return KindTimeout
	case containsAny(msg, "429", "rate limit", "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "insufficient") && containsAny(msg, "balance", "funds", "fee"):
		return KindInsufficientFunds
	case strings.Contains(msg, "nonce"):
		return KindNonceMismatch
	case containsAny(msg, "chain id", "chain_id", "chainid") && containsAny(msg, "mismatch", "invalid", "wrong"):
		return KindChainMismatch
	case containsAny(msg, "contract not found", "contract_not_found", "is not deployed"):
		return KindContractNotFound
	case containsAny(msg, "session", "spending limit", "spending cap", "not allowed", "allowlist", "policy"):
		return KindPolicyRevert
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindOffline
	}
	if containsAny(msg, "connection refused", "no such host", "network is unreachable", "connection reset", "eof", "dial tcp") {
		return KindOffline
	}
	return KindUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
