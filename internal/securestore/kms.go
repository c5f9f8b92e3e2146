package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
	"golang.org/x/crypto/hkdf"

	"github.com/better-wallet/session-keyring/internal/config"
)

// Provider names accepted in KMS_PROVIDER.
const (
	ProviderLocal  = "local"
	ProviderAWSKMS = "aws-kms"
	ProviderVault  = "vault"
)

// envelopeContext is bound to every ciphertext so values sealed for another
// application under the same key do not open here.
const envelopeContext = "session-keyring/secure-store/v1"

// localFormatV1 prefixes local ciphertexts: version || nonce || sealed.
const localFormatV1 byte = 1

// ErrMalformedCiphertext is returned when a stored value cannot be an
// envelope produced by this package.
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// KMSProvider seals values before they reach a storage backend.
type KMSProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	Provider() string
}

// NewKMSProvider picks the envelope named by cfg.Provider. An empty name
// means local.
func NewKMSProvider(ctx context.Context, cfg config.KMSConfig) (KMSProvider, error) {
	switch cfg.Provider {
	case "", ProviderLocal:
		return NewLocalKMSProvider(cfg.LocalMasterKey)
	case ProviderAWSKMS:
		return NewAWSKMSProvider(ctx, cfg.AWSKeyID, cfg.AWSRegion)
	case ProviderVault:
		return NewVaultProvider(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)
	}
	return nil, fmt.Errorf("unsupported KMS provider %q", cfg.Provider)
}

// LocalKMSProvider seals with AES-256-GCM under a key derived from the master
// secret with HKDF-SHA256.
type LocalKMSProvider struct {
	aead cipher.AEAD
}

// NewLocalKMSProvider derives the data key from masterKey.
func NewLocalKMSProvider(masterKey string) (*LocalKMSProvider, error) {
	if masterKey == "" {
		return nil, errors.New("local KMS needs KMS_LOCAL_MASTER_KEY")
	}

	dataKey := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(envelopeContext))
	if _, err := io.ReadFull(kdf, dataKey); err != nil {
		return nil, fmt.Errorf("derive data key: %w", err)
	}
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &LocalKMSProvider{aead: aead}, nil
}

func (p *LocalKMSProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	out := make([]byte, 1+p.aead.NonceSize(), 1+p.aead.NonceSize()+len(plaintext)+p.aead.Overhead())
	out[0] = localFormatV1
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return p.aead.Seal(out, out[1:], plaintext, []byte(envelopeContext)), nil
}

func (p *LocalKMSProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	headerLen := 1 + p.aead.NonceSize()
	if len(ciphertext) < headerLen+p.aead.Overhead() || ciphertext[0] != localFormatV1 {
		return nil, ErrMalformedCiphertext
	}
	plaintext, err := p.aead.Open(nil, ciphertext[1:headerLen], ciphertext[headerLen:], []byte(envelopeContext))
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}

func (p *LocalKMSProvider) Provider() string { return ProviderLocal }

// kmsAPI is the part of the AWS KMS client the provider calls.
type kmsAPI interface {
	Encrypt(ctx context.Context, in *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMSProvider seals directly with a symmetric AWS KMS key. Values are
// small (a session key and its policy), well under the 4 KiB KMS limit.
type AWSKMSProvider struct {
	keyID string
	api   kmsAPI
}

// NewAWSKMSProvider loads credentials from the default AWS chain.
func NewAWSKMSProvider(ctx context.Context, keyID, region string) (*AWSKMSProvider, error) {
	if keyID == "" || region == "" {
		return nil, errors.New("aws-kms needs KMS_AWS_KEY_ID and KMS_AWS_REGION")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWSKMSProvider{keyID: keyID, api: kms.NewFromConfig(cfg)}, nil
}

func (p *AWSKMSProvider) encryptionContext() map[string]string {
	return map[string]string{"purpose": envelopeContext}
}

func (p *AWSKMSProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	out, err := p.api.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(p.keyID),
		Plaintext:         plaintext,
		EncryptionContext: p.encryptionContext(),
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms encrypt: %w", err)
	}
	return out.CiphertextBlob, nil
}

func (p *AWSKMSProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := p.api.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(p.keyID),
		CiphertextBlob:    ciphertext,
		EncryptionContext: p.encryptionContext(),
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms decrypt: %w", err)
	}
	return out.Plaintext, nil
}

func (p *AWSKMSProvider) Provider() string { return ProviderAWSKMS }

// VaultProvider seals with a Vault transit key. The transit context is only
// honored by derived keys; plain keys ignore it.
type VaultProvider struct {
	logical *vault.Logical
	key     string
}

// NewVaultProvider authenticates with a static token.
func NewVaultProvider(address, token, transitKey string) (*VaultProvider, error) {
	if address == "" || token == "" || transitKey == "" {
		return nil, errors.New("vault needs KMS_VAULT_ADDRESS, KMS_VAULT_TOKEN and KMS_VAULT_TRANSIT_KEY")
	}
	vcfg := vault.DefaultConfig()
	vcfg.Address = address
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	client.SetToken(token)
	return &VaultProvider{logical: client.Logical(), key: transitKey}, nil
}

func (p *VaultProvider) transit(ctx context.Context, op string, body map[string]any, field string) (string, error) {
	secret, err := p.logical.WriteWithContext(ctx, "transit/"+op+"/"+p.key, body)
	if err != nil {
		return "", fmt.Errorf("vault transit %s: %w", op, err)
	}
	if secret == nil {
		return "", fmt.Errorf("vault transit %s: empty response", op)
	}
	value, ok := secret.Data[field].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("vault transit %s: response has no %s", op, field)
	}
	return value, nil
}

func (p *VaultProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	ct, err := p.transit(ctx, "encrypt", map[string]any{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	}, "ciphertext")
	if err != nil {
		return nil, err
	}
	return []byte(ct), nil
}

func (p *VaultProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	encoded, err := p.transit(ctx, "decrypt", map[string]any{
		"ciphertext": string(ciphertext),
	}, "plaintext")
	if err != nil {
		return nil, err
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: %w", ErrMalformedCiphertext)
	}
	return plaintext, nil
}

func (p *VaultProvider) Provider() string { return ProviderVault }

var (
	_ KMSProvider = (*LocalKMSProvider)(nil)
	_ KMSProvider = (*AWSKMSProvider)(nil)
	_ KMSProvider = (*VaultProvider)(nil)
)
