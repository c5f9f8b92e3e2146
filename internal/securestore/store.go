// Package securestore is the key-value store holding the session key index,
// per-key secrets and signer credentials. Values are opaque strings; a
// missing key is a valid state.
package securestore

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
)

// Store is a string key-value store.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Keys returns the stored keys; for inspection in tests and tooling.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// EncryptedStore seals every value with a KMSProvider before handing it to
// the backend.
type EncryptedStore struct {
	backend Store
	kms     KMSProvider
}

// NewEncryptedStore wraps backend
func NewEncryptedStore(backend Store, kms KMSProvider) *EncryptedStore {
	return &EncryptedStore{backend: backend, kms: kms}
}

func (s *EncryptedStore) Get(ctx context.Context, key string) (string, bool, error) {
	sealed, ok, err := s.backend.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	plaintext, err := s.kms.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return string(plaintext), true, nil
}

func (s *EncryptedStore) Set(ctx context.Context, key, value string) error {
	ciphertext, err := s.kms.Encrypt(ctx, []byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}
	return s.backend.Set(ctx, key, base64.StdEncoding.EncodeToString(ciphertext))
}

func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*EncryptedStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
