package signer

import (
	"fmt"
	"math/big"

	"github.com/better-wallet/session-keyring/internal/starknet"
)

// TransactionHasher computes the message hash a signer commits to.
type TransactionHasher interface {
	Hash(req *TransactionRequest) (*big.Int, error)
}

// InvokeHasher computes the v3 invoke transaction hash of the transaction
// the account executor broadcasts for req.
type InvokeHasher struct{}

func (InvokeHasher) Hash(req *TransactionRequest) (*big.Int, error) {
	if req == nil {
		return nil, fmt.Errorf("nil transaction request")
	}
	if req.Nonce == nil {
		return nil, fmt.Errorf("transaction request has no nonce")
	}
	tx := starknet.NewInvokeTransaction(req.AccountAddress, req.Calldata, req.Nonce, req.ResourceBounds)
	return starknet.InvokeV3Hash(tx, req.ChainID)
}
