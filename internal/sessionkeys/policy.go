// Package sessionkeys manages session keys: their local records and secrets,
// and their registration and revocation on the account contract.
package sessionkeys

import (
	"fmt"
	"math/big"
	"time"
)

// Policy is the persisted record of one session key. It mirrors the policy
// written to the account contract at registration.
type Policy struct {
	PublicKey        string   `json:"publicKey"`
	TokenSymbol      string   `json:"tokenSymbol"`
	TokenAddress     string   `json:"tokenAddress"`
	SpendingLimit    string   `json:"spendingLimit"`
	ValidAfter       int64    `json:"validAfter"`
	ValidUntil       int64    `json:"validUntil"`
	AllowedContracts []string `json:"allowedContracts"`
	CreatedAt        int64    `json:"createdAt"`
	RegisteredAt     *int64   `json:"registeredAt,omitempty"`
	RevokedAt        *int64   `json:"revokedAt,omitempty"`
	LastTxHash       string   `json:"lastTxHash,omitempty"`
}

// Revoked keys must never sign or be picked for a transfer.
func (p *Policy) Revoked() bool {
	return p.RevokedAt != nil
}

func (p *Policy) Registered() bool {
	return p.RegisteredAt != nil
}

// Expired reports whether the window has closed at now.
func (p *Policy) Expired(now time.Time) bool {
	return now.Unix() >= p.ValidUntil
}

// NotYetValid reports whether the window has not opened at now.
func (p *Policy) NotYetValid(now time.Time) bool {
	return now.Unix() < p.ValidAfter
}

// SpendingLimitInt parses the decimal spending limit.
func (p *Policy) SpendingLimitInt() (*big.Int, error) {
	return parseSpendingLimit(p.SpendingLimit)
}

var maxU256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func parseSpendingLimit(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("spending limit %q is not a decimal integer", s)
	}
	if v.Sign() < 0 || v.Cmp(maxU256) > 0 {
		return nil, fmt.Errorf("spending limit %q is out of u256 range", s)
	}
	return v, nil
}

func (p *Policy) clone() *Policy {
	c := *p
	c.AllowedContracts = append([]string{}, p.AllowedContracts...)
	if p.RegisteredAt != nil {
		v := *p.RegisteredAt
		c.RegisteredAt = &v
	}
	if p.RevokedAt != nil {
		v := *p.RevokedAt
		c.RevokedAt = &v
	}
	return &c
}
