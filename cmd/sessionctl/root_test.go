package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/session-keyring/internal/app"
	"github.com/better-wallet/session-keyring/internal/sessionkeys"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("SIGNER_MODE", "local")
	t.Setenv("STARKNET_NETWORK", "sepolia")
	t.Setenv("STARKNET_RPC_URL", "http://127.0.0.1:1")
	t.Setenv("RPC_MAX_RETRIES", "0")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("KMS_PROVIDER", "local")
	t.Setenv("ACCOUNT_ADDRESS", "")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "ERROR")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestKeysCreate(t *testing.T) {
	setTestEnv(t)

	out, err := run(t, "keys", "create", "--token", "strk", "--limit", "2.5", "--valid-for", "2h")
	require.NoError(t, err)

	var policy sessionkeys.Policy
	require.NoError(t, json.Unmarshal([]byte(out), &policy))
	assert.Equal(t, "STRK", policy.TokenSymbol)
	assert.Equal(t, "2500000000000000000", policy.SpendingLimit)
	assert.NotEmpty(t, policy.PublicKey)
	assert.Nil(t, policy.RegisteredAt)
}

func TestKeysCreate_RejectsUnknownToken(t *testing.T) {
	setTestEnv(t)

	_, err := run(t, "keys", "create", "--token", "DOGE", "--limit", "1")
	assert.Error(t, err)
}

func TestKeysCheck_RequiresAccount(t *testing.T) {
	setTestEnv(t)

	_, err := run(t, "keys", "check", "0x123")
	assert.ErrorIs(t, err, app.ErrAccountMissing)
}

func TestTransfer_RequiresInput(t *testing.T) {
	setTestEnv(t)

	_, err := run(t, "transfer", "--token", "STRK")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--amount")
}

func TestLoadEnvFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")
	assert.NoError(t, loadEnvFile(missing, false))
	assert.Error(t, loadEnvFile(missing, true))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SESSIONCTL_TEST_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SESSIONCTL_TEST_VALUE") })

	require.NoError(t, loadEnvFile(path, true))
	assert.Equal(t, "from-file", os.Getenv("SESSIONCTL_TEST_VALUE"))

	t.Setenv("SESSIONCTL_TEST_VALUE", "from-env")
	require.NoError(t, loadEnvFile(path, true))
	assert.Equal(t, "from-env", os.Getenv("SESSIONCTL_TEST_VALUE"))
}
