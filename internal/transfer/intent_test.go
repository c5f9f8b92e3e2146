package transfer

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	intent, err := ParseIntent("  Send 0.25 usdc to 0xABC  ")
	require.NoError(t, err)
	assert.Equal(t, &Intent{Amount: "0.25", TokenSymbol: "USDC", To: "0xABC"}, intent)

	for _, text := range []string{"", "send STRK to 0x1", "send 1 STRK 0x1", "send -1 STRK to 0x1", "buy 1 STRK to 0x1"} {
		_, err := ParseIntent(text)
		assert.ErrorIs(t, err, ErrInvalidIntent, text)
	}
}

func TestToBaseUnits(t *testing.T) {
	v, err := ToBaseUnits("1.5", 18)
	require.NoError(t, err)
	expected, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, 0, v.Cmp(expected))

	v, err = ToBaseUnits("0.000001", 6)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int64())

	for _, bad := range []string{"0", "-1", "abc", "0.0000001"} {
		_, err := ToBaseUnits(bad, 6)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}

	assert.Equal(t, "1.5", FormatBaseUnits(expected, 18))
}

func TestLookupToken(t *testing.T) {
	tok, err := LookupToken("mainnet", "usdc")
	require.NoError(t, err)
	assert.Equal(t, int32(6), tok.Decimals)

	_, err = LookupToken("goerli", "ETH")
	assert.Error(t, err)

	assert.Len(t, Tokens(NetworkSepolia), 3)
}

func TestDescribeRevert(t *testing.T) {
	tests := map[string]string{
		"Session: spending limit exceeded":       "Spending cap exceeded",
		"session key expired":                    "Session key expired",
		"Unknown session key 0x1":                "Session key not recognized",
		"ERC20: transfer amount exceeds balance": "Insufficient balance",
		"Account: lockdown active":               "Account lockdown active",
		"Target not allowlisted":                 "Target not allowlisted",
		"Invalid transaction nonce":              "Nonce conflict",
		"Insufficient max L2Gas":                 "Fee too low",
		"something odd":                          "Transaction reverted",
	}
	for reason, title := range tests {
		assert.Equal(t, title, DescribeRevert(reason).Title, reason)
	}
}
