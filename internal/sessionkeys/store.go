package sessionkeys

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/better-wallet/session-keyring/internal/logger"
	"github.com/better-wallet/session-keyring/internal/securestore"
	"github.com/better-wallet/session-keyring/internal/starknet"
)

// Secure storage keys.
const (
	IndexKey        = "session_keys.index"
	SecretKeyPrefix = "session_keys.secret."
)

const (
	// ClockSkew pads ValidAfter into the past.
	ClockSkew = 30 * time.Second
	// MinValidity is the shortest window a new key gets.
	MinValidity = 60 * time.Second
)

var (
	ErrNotFound        = errors.New("session key not found")
	ErrKeyRevoked      = errors.New("session key is revoked")
	ErrActiveKeyExists = errors.New("an active session key already exists for this token")
	ErrSecretMissing   = errors.New("session key secret is missing")
)

// CreateParams describes a new session key.
type CreateParams struct {
	TokenSymbol   string
	TokenAddress  string
	SpendingLimit string
	ValidFor      time.Duration
	// AllowedContracts beyond four are dropped. Empty means any contract.
	AllowedContracts []string
}

type secretRecord struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// Store keeps session key records and secrets in secure storage. The index is
// loaded, mutated and saved as a whole; callers serialize writers.
type Store struct {
	kv  securestore.Store
	now func() time.Time
}

// NewStore creates a Store over kv.
func NewStore(kv securestore.Store) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Create generates a key, persists its secret and appends its record.
func (s *Store) Create(ctx context.Context, params CreateParams) (*Policy, error) {
	symbol := strings.ToUpper(strings.TrimSpace(params.TokenSymbol))
	if symbol == "" {
		return nil, fmt.Errorf("token symbol is required")
	}
	if !starknet.IsHexFelt(params.TokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", params.TokenAddress)
	}
	if _, err := parseSpendingLimit(params.SpendingLimit); err != nil {
		return nil, err
	}
	allowed := params.AllowedContracts
	if len(allowed) > MaxAllowedContracts {
		allowed = allowed[:MaxAllowedContracts]
	}
	for _, c := range allowed {
		if !starknet.IsHexFelt(c) {
			return nil, fmt.Errorf("invalid allowed contract %q", c)
		}
	}

	policies, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	// An expired key still blocks: it must be revoked before a replacement
	// exists, so at most one non-revoked key ever covers a token.
	for _, p := range policies {
		if strings.EqualFold(p.TokenSymbol, symbol) && !p.Revoked() {
			return nil, fmt.Errorf("%w: %s (%s)", ErrActiveKeyExists, symbol, p.PublicKey)
		}
	}

	key, err := starknet.GenerateKey()
	if err != nil {
		return nil, err
	}

	now := s.now()
	validFor := params.ValidFor
	if validFor < MinValidity {
		validFor = MinValidity
	}
	policy := &Policy{
		PublicKey:        key.PublicKeyHex(),
		TokenSymbol:      symbol,
		TokenAddress:     starknet.NormalizeFelt(params.TokenAddress),
		SpendingLimit:    params.SpendingLimit,
		ValidAfter:       now.Add(-ClockSkew).Unix(),
		ValidUntil:       now.Add(validFor).Unix(),
		AllowedContracts: append([]string{}, allowed...),
		CreatedAt:        now.Unix(),
	}

	secret, err := json.Marshal(secretRecord{
		PublicKey:  policy.PublicKey,
		PrivateKey: hex.EncodeToString(key.Bytes()),
	})
	if err != nil {
		return nil, err
	}
	if err := s.kv.Set(ctx, secretKey(policy.PublicKey), string(secret)); err != nil {
		return nil, fmt.Errorf("failed to store session key secret: %w", err)
	}

	if err := s.save(ctx, append(policies, policy)); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("session key created",
		"public_key", policy.PublicKey,
		"token_symbol", policy.TokenSymbol,
		"valid_until", policy.ValidUntil,
	)
	return policy.clone(), nil
}

// List returns every record, oldest first. A missing index is empty.
func (s *Store) List(ctx context.Context) ([]*Policy, error) {
	raw, ok, err := s.kv.Get(ctx, IndexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read session key index: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []*Policy{}, nil
	}
	var policies []*Policy
	if err := json.Unmarshal([]byte(raw), &policies); err != nil {
		return nil, fmt.Errorf("failed to decode session key index: %w", err)
	}
	sort.SliceStable(policies, func(i, j int) bool { return policies[i].CreatedAt < policies[j].CreatedAt })
	return policies, nil
}

// Get returns the record for publicKey.
func (s *Store) Get(ctx context.Context, publicKey string) (*Policy, error) {
	policies, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexOf(policies, publicKey)
	if idx < 0 {
		return nil, ErrNotFound
	}
	return policies[idx], nil
}

// ActiveForToken returns the non-revoked key scoped to symbol. Create keeps
// that key unique; it may have expired.
func (s *Store) ActiveForToken(ctx context.Context, symbol string) (*Policy, error) {
	policies, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		if !p.Revoked() && strings.EqualFold(p.TokenSymbol, symbol) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w for token %s", ErrNotFound, strings.ToUpper(symbol))
}

// Replace overwrites the record with the same public key.
func (s *Store) Replace(ctx context.Context, policy *Policy) error {
	policies, err := s.List(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(policies, policy.PublicKey)
	if idx < 0 {
		return ErrNotFound
	}
	policies[idx] = policy.clone()
	return s.save(ctx, policies)
}

// MarkRegistered stamps registeredAt and lastTxHash.
func (s *Store) MarkRegistered(ctx context.Context, publicKey, txHash string, at time.Time) (*Policy, error) {
	policies, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexOf(policies, publicKey)
	if idx < 0 {
		return nil, ErrNotFound
	}
	ts := at.Unix()
	policies[idx].RegisteredAt = &ts
	policies[idx].LastTxHash = txHash
	if err := s.save(ctx, policies); err != nil {
		return nil, err
	}
	return policies[idx].clone(), nil
}

// MarkRevoked stamps revokedAt and lastTxHash on every listed key, even one
// already revoked, and deletes their secrets.
func (s *Store) MarkRevoked(ctx context.Context, publicKeys []string, txHash string, at time.Time) error {
	policies, err := s.List(ctx)
	if err != nil {
		return err
	}
	ts := at.Unix()
	for _, pub := range publicKeys {
		idx := indexOf(policies, pub)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, pub)
		}
		revokedAt := ts
		policies[idx].RevokedAt = &revokedAt
		policies[idx].LastTxHash = txHash
	}
	if err := s.save(ctx, policies); err != nil {
		return err
	}

	for _, pub := range publicKeys {
		if err := s.kv.Delete(ctx, secretKey(pub)); err != nil {
			return fmt.Errorf("failed to delete session key secret: %w", err)
		}
	}
	return nil
}

// LoadPrivateKey returns the secret for a non-revoked key.
func (s *Store) LoadPrivateKey(ctx context.Context, publicKey string) (*starknet.PrivateKey, error) {
	policy, err := s.Get(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	if policy.Revoked() {
		return nil, ErrKeyRevoked
	}

	raw, ok, err := s.kv.Get(ctx, secretKey(policy.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("failed to read session key secret: %w", err)
	}
	if !ok {
		return nil, ErrSecretMissing
	}
	var secret secretRecord
	if err := json.Unmarshal([]byte(raw), &secret); err != nil {
		return nil, fmt.Errorf("failed to decode session key secret: %w", err)
	}
	material, err := hex.DecodeString(secret.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session key secret: %w", err)
	}
	key, err := starknet.PrivateKeyFromBytes(material)
	if err != nil {
		return nil, err
	}
	if !starknet.EqualFelt(key.PublicKeyHex(), policy.PublicKey) {
		return nil, fmt.Errorf("stored secret does not match session key %s", policy.PublicKey)
	}
	return key, nil
}

func (s *Store) save(ctx context.Context, policies []*Policy) error {
	data, err := json.Marshal(policies)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, IndexKey, string(data)); err != nil {
		return fmt.Errorf("failed to write session key index: %w", err)
	}
	return nil
}

func indexOf(policies []*Policy, publicKey string) int {
	for i, p := range policies {
		if starknet.EqualFelt(p.PublicKey, publicKey) {
			return i
		}
	}
	return -1
}

func secretKey(publicKey string) string {
	return SecretKeyPrefix + starknet.NormalizeFelt(publicKey)
}
