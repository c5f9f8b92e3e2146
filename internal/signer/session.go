package signer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/better-wallet/session-keyring/internal/signerclient"
	"github.com/better-wallet/session-keyring/internal/starknet"
)

// Mode is the signing backend of a SessionSigner.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// ErrInvalidRemoteSignature is returned when the keyring answer does not have
// the [pubkey, r, s, valid_until] shape for this signer.
var ErrInvalidRemoteSignature = errors.New("invalid remote session signature")

// KeyLoader returns the stored private key for a session public key.
type KeyLoader interface {
	LoadPrivateKey(ctx context.Context, publicKey string) (*starknet.PrivateKey, error)
}

// KeyringSigner is the remote signing capability.
type KeyringSigner interface {
	SignKeyringTransaction(ctx context.Context, req *signerclient.KeyringRequest) (*signerclient.KeyringResponse, error)
}

// RemoteContext is the audit context forwarded with every remote request.
type RemoteContext struct {
	Requester      string
	Tool           string
	ClientID       string
	MobileActionID string
	Reason         string
	CorrelationID  string
}

// SessionSigner signs invoke transactions for one session key and returns the
// four felt tuple [sessionPublicKey, r, s, validUntil] the account expects.
type SessionSigner struct {
	mode       Mode
	publicKey  string
	validUntil int64

	keys   KeyLoader
	hasher TransactionHasher

	remote    KeyringSigner
	remoteCtx RemoteContext

	now func() time.Time

	mu              sync.Mutex
	pinnedKey       string
	lastRequestID   string
	lastMessageHash string
}

// NewLocalSessionSigner signs with the key material held by keys.
func NewLocalSessionSigner(publicKey string, validUntil int64, keys KeyLoader, hasher TransactionHasher) *SessionSigner {
	if hasher == nil {
		hasher = InvokeHasher{}
	}
	return &SessionSigner{
		mode:       ModeLocal,
		publicKey:  starknet.NormalizeFelt(publicKey),
		validUntil: validUntil,
		keys:       keys,
		hasher:     hasher,
		now:        time.Now,
	}
}

// NewRemoteSessionSigner delegates signing to the keyring proxy.
func NewRemoteSessionSigner(publicKey string, validUntil int64, remote KeyringSigner, rc RemoteContext) *SessionSigner {
	return &SessionSigner{
		mode:       ModeRemote,
		publicKey:  starknet.NormalizeFelt(publicKey),
		validUntil: validUntil,
		remote:     remote,
		remoteCtx:  rc,
		now:        time.Now,
	}
}

func (s *SessionSigner) Mode() Mode { return s.mode }

func (s *SessionSigner) ValidUntil() int64 { return s.validUntil }

func (s *SessionSigner) PublicKey(ctx context.Context) (string, error) {
	return s.publicKey, nil
}

// LastRequestID is the keyring request id of the most recent remote signature.
func (s *SessionSigner) LastRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRequestID
}

// LastMessageHash is the hash committed to by the most recent signature.
func (s *SessionSigner) LastMessageHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessageHash
}

func (s *SessionSigner) SignTransaction(ctx context.Context, req *TransactionRequest) ([]string, error) {
	if req == nil {
		return nil, fmt.Errorf("nil transaction request")
	}
	if s.now().Unix() >= s.validUntil {
		return nil, ErrSigningWindowExpired
	}

	if s.mode == ModeRemote {
		return s.signRemote(ctx, req)
	}
	return s.signLocal(ctx, req)
}

func (s *SessionSigner) signLocal(ctx context.Context, req *TransactionRequest) ([]string, error) {
	key, err := s.keys.LoadPrivateKey(ctx, s.publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session key: %w", err)
	}
	if !starknet.EqualFelt(key.PublicKeyHex(), s.publicKey) {
		return nil, fmt.Errorf("stored key does not match session public key %s", s.publicKey)
	}

	hash, err := s.hasher.Hash(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash transaction: %w", err)
	}
	r, sig, err := key.Sign(hash)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastMessageHash = starknet.FeltHex(hash)
	s.lastRequestID = ""
	s.mu.Unlock()

	return []string{
		s.publicKey,
		starknet.FeltHex(r),
		starknet.FeltHex(sig),
		starknet.FeltFromUint64(uint64(s.validUntil)),
	}, nil
}

func (s *SessionSigner) signRemote(ctx context.Context, req *TransactionRequest) ([]string, error) {
	calls := make([]signerclient.KeyringCall, 0, len(req.Calls))
	for _, c := range req.Calls {
		calldata := c.Calldata
		if calldata == nil {
			calldata = []string{}
		}
		calls = append(calls, signerclient.KeyringCall{
			ContractAddress: c.ContractAddress,
			Entrypoint:      c.Entrypoint,
			Calldata:        calldata,
		})
	}

	resp, err := s.remote.SignKeyringTransaction(ctx, &signerclient.KeyringRequest{
		AccountAddress: req.AccountAddress,
		ChainID:        req.ChainID,
		Nonce:          starknet.FeltHex(req.Nonce),
		ValidUntil:     s.validUntil,
		Calls:          calls,
		Context: signerclient.KeyringContext{
			Requester:      s.remoteCtx.Requester,
			Tool:           s.remoteCtx.Tool,
			ClientID:       s.remoteCtx.ClientID,
			MobileActionID: s.remoteCtx.MobileActionID,
			Reason:         s.remoteCtx.Reason,
			CorrelationID:  s.remoteCtx.CorrelationID,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.checkRemoteSignature(resp); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinnedKey == "" {
		s.pinnedKey = resp.Signature[0]
	} else if !starknet.EqualFelt(s.pinnedKey, resp.Signature[0]) {
		return nil, fmt.Errorf("%w: session public key changed from %s to %s",
			ErrInvalidRemoteSignature, s.pinnedKey, resp.Signature[0])
	}
	s.lastRequestID = resp.RequestID
	s.lastMessageHash = resp.MessageHash

	return append([]string(nil), resp.Signature...), nil
}

func (s *SessionSigner) checkRemoteSignature(resp *signerclient.KeyringResponse) error {
	sig := resp.Signature
	if len(sig) != 4 {
		return fmt.Errorf("%w: expected 4 elements, got %d", ErrInvalidRemoteSignature, len(sig))
	}
	for i, felt := range sig {
		if !starknet.IsHexFelt(felt) {
			return fmt.Errorf("%w: element %d is not a hex felt", ErrInvalidRemoteSignature, i)
		}
	}
	if resp.SessionPublicKey != "" && !starknet.EqualFelt(resp.SessionPublicKey, s.publicKey) {
		return fmt.Errorf("%w: signer used session key %s", ErrInvalidRemoteSignature, resp.SessionPublicKey)
	}
	if !starknet.EqualFelt(sig[0], s.publicKey) {
		return fmt.Errorf("%w: signature public key does not match %s", ErrInvalidRemoteSignature, s.publicKey)
	}
	validUntil, err := starknet.ParseFelt(sig[3])
	if err != nil || !validUntil.IsInt64() || validUntil.Int64() != s.validUntil {
		return fmt.Errorf("%w: valid_until does not match the signing window", ErrInvalidRemoteSignature)
	}
	return nil
}

// SignMessage is not available to session keys.
func (s *SessionSigner) SignMessage(ctx context.Context, typedData []byte) ([]string, error) {
	return nil, &UnsupportedError{Operation: "typed message signing"}
}

// SignDeployAccount is not available to session keys.
func (s *SessionSigner) SignDeployAccount(ctx context.Context, req *TransactionRequest) ([]string, error) {
	return nil, &UnsupportedError{Operation: "deploy account signing"}
}

// SignDeclare is not available to session keys.
func (s *SessionSigner) SignDeclare(ctx context.Context, req *TransactionRequest) ([]string, error) {
	return nil, &UnsupportedError{Operation: "declare signing"}
}
