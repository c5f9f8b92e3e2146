package starknet

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sepoliaChainID = "0x534e5f5345504f4c4941"

// Sepolia block 567941, tx index 0.
func sepoliaInvoke() *InvokeTransaction {
	tx := NewInvokeTransaction(
		"0x745d525a3582e91299d8d7c71730ffc4b1f191f5b219d800334bc0edad0983b",
		[]string{
			"0x1",
			"0x4138fd51f90d171df37e9d4419c8cdb67d525840c58f8a5c347be93a1c5277d",
			"0x2468d193cd15b621b24c2a602b8dbcfa5eaa14f88416c40c09d7fd12592cb4b",
			"0x0",
		},
		big.NewInt(0x9803),
		ResourceBounds{
			L1Gas:     ResourceBound{MaxAmount: MustParseFelt("0x186a0"), MaxPricePerUnit: MustParseFelt("0x2d79883d20000")},
			L1DataGas: ResourceBound{MaxAmount: MustParseFelt("0x186a0"), MaxPricePerUnit: MustParseFelt("0x2d79883d20000")},
			L2Gas:     ResourceBound{MaxAmount: MustParseFelt("0x5f5e100"), MaxPricePerUnit: MustParseFelt("0xba43b7400")},
		},
	)
	tx.Signature = []string{
		"0x17bacc700df6c82682139e8e550078a5daa75dfe356577f78f7e57fd7c56245",
		"0x4eb8734727eb9412b79ba6d14ff1c9a6beb0dc0b811e3f97168c747f8d427b3",
	}
	return tx
}

func TestInvokeV3Hash_KnownTransaction(t *testing.T) {
	hash, err := InvokeV3Hash(sepoliaInvoke(), sepoliaChainID)
	require.NoError(t, err)
	assert.Equal(t, "0x76b52e17bc09064bd986ead34263e6305ef3cecfb3ae9e19b86bf4f1a1a20ea", FeltHex(hash))
}

func TestInvokeV3Hash_CommitsToEveryField(t *testing.T) {
	base, err := InvokeV3Hash(sepoliaInvoke(), sepoliaChainID)
	require.NoError(t, err)

	mutations := map[string]func(tx *InvokeTransaction){
		"nonce":      func(tx *InvokeTransaction) { tx.Nonce = "0x9804" },
		"calldata":   func(tx *InvokeTransaction) { tx.Calldata[3] = "0x1" },
		"tip":        func(tx *InvokeTransaction) { tx.Tip = "0x1" },
		"l1 data":    func(tx *InvokeTransaction) { tx.ResourceBounds.L1DataGas.MaxAmount = big.NewInt(1) },
		"l2 price":   func(tx *InvokeTransaction) { tx.ResourceBounds.L2Gas.MaxPricePerUnit = big.NewInt(1) },
		"paymaster":  func(tx *InvokeTransaction) { tx.PaymasterData = []string{"0x1"} },
		"fee da":     func(tx *InvokeTransaction) { tx.FeeDataAvailabilityMode = "L2" },
		"deployment": func(tx *InvokeTransaction) { tx.AccountDeploymentData = []string{"0x1"} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tx := sepoliaInvoke()
			mutate(tx)
			got, err := InvokeV3Hash(tx, sepoliaChainID)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}

	t.Run("chain id", func(t *testing.T) {
		got, err := InvokeV3Hash(sepoliaInvoke(), "0x534e5f4d41494e")
		require.NoError(t, err)
		assert.NotEqual(t, base, got)
	})

	t.Run("signature is not hashed", func(t *testing.T) {
		tx := sepoliaInvoke()
		tx.Signature = []string{"0x1"}
		got, err := InvokeV3Hash(tx, sepoliaChainID)
		require.NoError(t, err)
		assert.Equal(t, base, got)
	})
}

func TestInvokeV3Hash_Errors(t *testing.T) {
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 64)

	tests := map[string]func(tx *InvokeTransaction){
		"amount over u64": func(tx *InvokeTransaction) { tx.ResourceBounds.L1Gas.MaxAmount = tooLarge },
		"price over u128": func(tx *InvokeTransaction) { tx.ResourceBounds.L2Gas.MaxPricePerUnit = new(big.Int).Lsh(big.NewInt(1), 128) },
		"bad sender":      func(tx *InvokeTransaction) { tx.SenderAddress = "0xzz" },
		"bad calldata":    func(tx *InvokeTransaction) { tx.Calldata = []string{"nope"} },
		"unknown da mode": func(tx *InvokeTransaction) { tx.NonceDataAvailabilityMode = "L3" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			tx := sepoliaInvoke()
			mutate(tx)
			_, err := InvokeV3Hash(tx, sepoliaChainID)
			assert.Error(t, err)
		})
	}

	_, err := InvokeV3Hash(nil, sepoliaChainID)
	assert.Error(t, err)
}
