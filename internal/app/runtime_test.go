package app

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/session-keyring/internal/activity"
	"github.com/better-wallet/session-keyring/internal/config"
	"github.com/better-wallet/session-keyring/internal/securestore"
	"github.com/better-wallet/session-keyring/internal/sessionkeys"
	"github.com/better-wallet/session-keyring/internal/signer"
	"github.com/better-wallet/session-keyring/internal/signerclient"
	"github.com/better-wallet/session-keyring/internal/starknet"
	"github.com/better-wallet/session-keyring/internal/transfer"
	apperrors "github.com/better-wallet/session-keyring/pkg/errors"
)

const (
	testAccount   = "0xa11ce"
	strkAddress   = "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"
	testHMACKey   = "0123456789abcdef0123456789abcdef"
	testChainID   = "0x534e5f5345504f4c4941"
	testRecipient = "0xbeef"
)

// fakeNode answers the Starknet JSON-RPC methods a transfer needs.
type fakeNode struct {
	mu      sync.Mutex
	invokes []json.RawMessage
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var result any
	switch req.Method {
	case "starknet_chainId":
		result = testChainID
	case "starknet_getNonce":
		result = "0x7"
	case "starknet_call":
		// 100 STRK
		result = []string{"0x56bc75e2d63100000", "0x0"}
	case "starknet_estimateFee":
		result = []map[string]string{{
			"l1_gas_consumed": "0x10", "l1_gas_price": "0x2",
			"l1_data_gas_consumed": "0x8", "l1_data_gas_price": "0x1",
			"l2_gas_consumed": "0x100", "l2_gas_price": "0x3",
			"overall_fee": "0x328", "unit": "FRI",
		}}
	case "starknet_addInvokeTransaction":
		n.mu.Lock()
		n.invokes = append(n.invokes, req.Params)
		n.mu.Unlock()
		result = map[string]string{"transaction_hash": "0xfeed"}
	case "starknet_getTransactionReceipt":
		result = map[string]any{
			"transaction_hash": "0xfeed",
			"execution_status": starknet.ExecutionSucceeded,
			"finality_status":  starknet.FinalityAcceptedOnL2,
		}
	default:
		result = nil
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (n *fakeNode) lastSignature(t *testing.T) []string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.invokes)

	var params []struct {
		Signature []string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(n.invokes[len(n.invokes)-1], &params))
	require.Len(t, params, 1)
	return params[0].Signature
}

func (n *fakeNode) lastInvoke(t *testing.T) *starknet.InvokeTransaction {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.invokes)

	var params []starknet.InvokeTransaction
	require.NoError(t, json.Unmarshal(n.invokes[len(n.invokes)-1], &params))
	require.Len(t, params, 1)
	return &params[0]
}

func testConfig(rpcURL string) *config.Config {
	return &config.Config{
		Environment:    "development",
		SignerMode:     config.SignerModeLocal,
		Network:        "sepolia",
		AccountAddress: testAccount,
		RPC: config.RPCConfig{
			URL:         rpcURL,
			TimeoutMs:   2000,
			MaxRetries:  0,
			BaseDelayMs: 1,
			MaxDelayMs:  1,
		},
		Store: config.StoreConfig{Backend: "memory"},
		KMS:   config.KMSConfig{Provider: "local"},
	}
}

func newRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func createSTRKKey(t *testing.T, rt *Runtime) *sessionkeys.Policy {
	t.Helper()
	policy, err := rt.Keys().Create(context.Background(), sessionkeys.CreateParams{
		TokenSymbol:   "STRK",
		TokenAddress:  strkAddress,
		SpendingLimit: "10000000000000000000",
		ValidFor:      time.Hour,
	})
	require.NoError(t, err)
	return policy
}

func TestRuntime_LocalTransfer(t *testing.T) {
	node := &fakeNode{}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	recorder := activity.NewMemoryRecorder()
	rt := newRuntime(t, testConfig(srv.URL), WithRecorder(recorder))
	policy := createSTRKKey(t, rt)

	wallet, err := rt.Wallet()
	require.NoError(t, err)

	var states []transfer.State
	orch := rt.Orchestrator(func(s transfer.State) { states = append(states, s) })

	ctx := context.Background()
	action, err := orch.Prepare(ctx, wallet, transfer.PrepareInput{Text: "send 1 STRK to " + testRecipient})
	require.NoError(t, err)
	result, err := orch.Execute(ctx, wallet, action, transfer.ExecuteOptions{CorrelationID: "corr-1"})
	require.NoError(t, err)

	assert.Equal(t, transfer.StateConfirmed, result.State)
	assert.Equal(t, "0xfeed", result.TransactionHash)
	assert.Equal(t, signer.ModeLocal, result.SignerMode)
	assert.Equal(t, []transfer.State{
		transfer.StatePreparing, transfer.StateSigning, transfer.StateSubmitted, transfer.StateConfirmed,
	}, states)

	sig := node.lastSignature(t)
	require.Len(t, sig, 4)
	assert.True(t, starknet.EqualFelt(policy.PublicKey, sig[0]))
	assert.Equal(t, starknet.FeltFromUint64(uint64(policy.ValidUntil)), sig[3])

	// The session signature must verify against the protocol hash of the
	// transaction that was actually broadcast.
	hash, err := starknet.InvokeV3Hash(node.lastInvoke(t), testChainID)
	require.NoError(t, err)
	key, err := rt.Keys().LoadPrivateKey(ctx, policy.PublicKey)
	require.NoError(t, err)
	assert.True(t, key.Verify(hash, starknet.MustParseFelt(sig[1]), starknet.MustParseFelt(sig[2])))

	records := recorder.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "corr-1", records[0].CorrelationID)
	assert.Equal(t, "STRK", records[0].Token)
}

func TestRuntime_EncryptsSecretsWithMasterKey(t *testing.T) {
	kv := securestore.NewMemoryStore()
	kms, err := securestore.NewLocalKMSProvider("a-local-master-key")
	require.NoError(t, err)

	rt := newRuntime(t, testConfig("http://127.0.0.1:1"), WithSecureStore(securestore.NewEncryptedStore(kv, kms)))
	policy := createSTRKKey(t, rt)

	raw, ok, err := kv.Get(context.Background(), sessionkeys.SecretKeyPrefix+policy.PublicKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, raw, "privateKey")

	key, err := rt.Keys().LoadPrivateKey(context.Background(), policy.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, policy.PublicKey, key.PublicKeyHex())
}

func TestRuntime_NewSessionSigner(t *testing.T) {
	ctx := context.Background()

	t.Run("revoked key", func(t *testing.T) {
		rt := newRuntime(t, testConfig("http://127.0.0.1:1"))
		policy := createSTRKKey(t, rt)
		revokedAt := time.Now().Unix()
		policy.RevokedAt = &revokedAt

		_, err := rt.NewSessionSigner(ctx, policy)
		assert.ErrorIs(t, err, sessionkeys.ErrKeyRevoked)
	})

	t.Run("expired key fails before remote setup", func(t *testing.T) {
		cfg := testConfig("http://127.0.0.1:1")
		cfg.SignerMode = config.SignerModeRemote
		rt := newRuntime(t, cfg)
		policy := createSTRKKey(t, rt)
		policy.ValidUntil = time.Now().Add(-time.Second).Unix()

		_, err := rt.NewSessionSigner(ctx, policy)
		assert.ErrorIs(t, err, signer.ErrSigningWindowExpired)
		assert.False(t, apperrors.HasCode(err, apperrors.ErrCodeMissingProxyURL))
	})

	t.Run("remote without proxy url", func(t *testing.T) {
		cfg := testConfig("http://127.0.0.1:1")
		cfg.SignerMode = config.SignerModeRemote
		rt := newRuntime(t, cfg)

		_, err := rt.NewSessionSigner(ctx, createSTRKKey(t, rt))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingProxyURL), "got %v", err)
	})

	t.Run("remote with malformed pin", func(t *testing.T) {
		cfg := remoteConfig("https://signer.example.com")
		cfg.Remote.PinnedHashes = []string{"not-a-pin"}
		rt := newRuntime(t, cfg)

		_, err := rt.NewSessionSigner(ctx, createSTRKKey(t, rt))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePinningInitFailed), "got %v", err)
	})

	t.Run("remote with valid pin", func(t *testing.T) {
		cfg := remoteConfig("https://signer.example.com")
		cfg.Remote.PinnedHashes = []string{base64.StdEncoding.EncodeToString(make([]byte, 32))}
		rt := newRuntime(t, cfg)
		policy := createSTRKKey(t, rt)

		first, err := rt.NewSessionSigner(ctx, policy)
		require.NoError(t, err)
		second, err := rt.NewSessionSigner(ctx, policy)
		require.NoError(t, err)
		assert.Equal(t, signer.ModeRemote, first.Mode())
		assert.Equal(t, signer.ModeRemote, second.Mode())
	})
}

func remoteConfig(proxyURL string) *config.Config {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.SignerMode = config.SignerModeRemote
	cfg.Remote = config.RemoteSigner{
		ProxyURL:   proxyURL,
		ClientID:   "mobile-app",
		HMACSecret: testHMACKey,
		Requester:  "session-keyring",
		Tool:       "execute_transfer",
	}
	return cfg
}

func TestRuntime_RemoteSigning(t *testing.T) {
	var (
		mu       sync.Mutex
		received map[string]any
		policy   *sessionkeys.Policy
	)
	signerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		payload := signerclient.SigningPayload(r.Header.Get(signerclient.HeaderTimestamp),
			r.Header.Get(signerclient.HeaderNonce), r.Method, r.URL.EscapedPath(), body)
		if r.URL.Path != signerclient.KeyringSignPath ||
			!signerclient.VerifySignature([]byte(testHMACKey), payload, r.Header.Get(signerclient.HeaderSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad signature"}`))
			return
		}

		mu.Lock()
		_ = json.Unmarshal(body, &received)
		pub, validUntil := policy.PublicKey, policy.ValidUntil
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"signature":    []string{pub, "0x1", "0x2", starknet.FeltFromUint64(uint64(validUntil))},
			"request_id":   "req-9",
			"message_hash": "0xabc",
		})
	}))
	t.Cleanup(signerSrv.Close)

	rt := newRuntime(t, remoteConfig(signerSrv.URL))
	mu.Lock()
	policy = createSTRKKey(t, rt)
	mu.Unlock()

	s, err := rt.NewSessionSigner(context.Background(), policy)
	require.NoError(t, err)

	sig, err := s.SignTransaction(context.Background(), &signer.TransactionRequest{
		AccountAddress: testAccount,
		ChainID:        testChainID,
		Nonce:          big.NewInt(7),
		Calls: []starknet.Call{{
			ContractAddress: strkAddress,
			Entrypoint:      "transfer",
			Calldata:        []string{testRecipient, "0x1", "0x0"},
		}},
	})
	require.NoError(t, err)
	assert.Len(t, sig, 4)
	assert.Equal(t, "req-9", s.LastRequestID())
	assert.Equal(t, "0xabc", s.LastMessageHash())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "0x7", received["nonce"])
	requestCtx, ok := received["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "session-keyring", requestCtx["requester"])
	assert.Equal(t, "mobile-app", requestCtx["client_id"])
}

func TestRuntime_OwnerAccount(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	rt := newRuntime(t, cfg)

	_, err := rt.Registrar()
	assert.ErrorIs(t, err, ErrOwnerKeyMissing)

	owner, err := starknet.GenerateKey()
	require.NoError(t, err)
	cfg.OwnerPrivateKey = "0x" + hex.EncodeToString(owner.Bytes())

	acct, err := rt.OwnerAccount()
	require.NoError(t, err)
	assert.True(t, starknet.EqualFelt(testAccount, acct.Address()))
	pub, err := acct.Signer().PublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, owner.PublicKeyHex(), pub)

	cfg.AccountAddress = ""
	_, err = rt.Wallet()
	assert.ErrorIs(t, err, ErrAccountMissing)
}

func TestRuntime_IsValidOnchainFailsClosed(t *testing.T) {
	rt := newRuntime(t, testConfig("http://127.0.0.1:1"))

	valid, err := rt.IsValidOnchain(context.Background(), "0x123")
	require.NoError(t, err)
	assert.False(t, valid)
}
