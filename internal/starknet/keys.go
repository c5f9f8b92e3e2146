package starknet

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/stark-curve/ecdsa"
)

const feltByteLen = 32

// PrivateKey is a STARK-curve signing key.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// GenerateKey creates a new key from crypto/rand.
func GenerateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate stark key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes restores a key serialized with Bytes.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key := new(ecdsa.PrivateKey)
	if _, err := key.SetBytes(b); err != nil {
		return nil, fmt.Errorf("invalid stark key material: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromHex restores a key from the hex form of Bytes, with or
// without a 0x prefix.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid stark key hex: %w", err)
	}
	return PrivateKeyFromBytes(b)
}

// Bytes serializes the key. The encoding carries the secret scalar.
func (k *PrivateKey) Bytes() []byte {
	return k.key.Bytes()
}

// PublicKey returns the x coordinate of the public point as a felt.
func (k *PrivateKey) PublicKey() *big.Int {
	return k.key.PublicKey.A.X.BigInt(new(big.Int))
}

// PublicKeyHex returns PublicKey as hex.
func (k *PrivateKey) PublicKeyHex() string {
	return FeltHex(k.PublicKey())
}

// Sign signs a message hash and returns the (r, s) pair.
func (k *PrivateKey) Sign(hash *big.Int) (r, s *big.Int, err error) {
	msg, err := hashBytes(hash)
	if err != nil {
		return nil, nil, err
	}
	sig, err := k.key.Sign(msg, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign: %w", err)
	}
	r = new(big.Int).SetBytes(sig[:feltByteLen])
	s = new(big.Int).SetBytes(sig[feltByteLen : 2*feltByteLen])
	return r, s, nil
}

// Verify checks an (r, s) pair produced by Sign against this key.
func (k *PrivateKey) Verify(hash, r, s *big.Int) bool {
	msg, err := hashBytes(hash)
	if err != nil {
		return false
	}
	sig := make([]byte, 2*feltByteLen)
	r.FillBytes(sig[:feltByteLen])
	s.FillBytes(sig[feltByteLen:])
	ok, err := k.key.PublicKey.Verify(sig, msg, nil)
	return err == nil && ok
}

func hashBytes(hash *big.Int) ([]byte, error) {
	if hash == nil || hash.Sign() < 0 || hash.Cmp(FieldPrime) >= 0 {
		return nil, fmt.Errorf("message hash out of field range")
	}
	msg := make([]byte, feltByteLen)
	hash.FillBytes(msg)
	return msg, nil
}
