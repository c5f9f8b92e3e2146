package starknet

import (
	"fmt"
	"math/big"

	junocrypto "github.com/NethermindEth/juno/core/crypto"
	"github.com/NethermindEth/juno/core/felt"
)

var (
	invokePrefix = new(big.Int).SetBytes([]byte("invoke"))

	maxU64 = new(big.Int).SetUint64(^uint64(0))
)

// Resource names packed into the high bits of each v3 bound.
const (
	resourceL1Gas     = "L1_GAS"
	resourceL2Gas     = "L2_GAS"
	resourceL1DataGas = "L1_DATA"
)

// InvokeV3Hash is the protocol hash of a v3 invoke: the value an account
// sees as tx_info.transaction_hash and verifies the signature against.
//
//	poseidon(prefix, version, sender, h(tip, l1, l2, l1_data), h(paymaster_data),
//	         chain_id, nonce, da_modes, h(account_deployment_data), h(calldata))
func InvokeV3Hash(tx *InvokeTransaction, chainID string) (*big.Int, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil invoke transaction")
	}

	version, err := feltFromHex("version", tx.Version)
	if err != nil {
		return nil, err
	}
	sender, err := feltFromHex("sender_address", tx.SenderAddress)
	if err != nil {
		return nil, err
	}
	chain, err := feltFromHex("chain_id", chainID)
	if err != nil {
		return nil, err
	}
	nonce, err := feltFromHex("nonce", tx.Nonce)
	if err != nil {
		return nil, err
	}

	feeHash, err := tipAndBoundsHash(tx.Tip, tx.ResourceBounds)
	if err != nil {
		return nil, err
	}
	paymasterHash, err := poseidonOf("paymaster_data", tx.PaymasterData)
	if err != nil {
		return nil, err
	}
	deploymentHash, err := poseidonOf("account_deployment_data", tx.AccountDeploymentData)
	if err != nil {
		return nil, err
	}
	calldataHash, err := poseidonOf("calldata", tx.Calldata)
	if err != nil {
		return nil, err
	}
	daModes, err := dataAvailabilityModes(tx.NonceDataAvailabilityMode, tx.FeeDataAvailabilityMode)
	if err != nil {
		return nil, err
	}

	prefix := new(felt.Felt).SetBigInt(invokePrefix)
	h := junocrypto.PoseidonArray(
		prefix,
		version,
		sender,
		&feeHash,
		&paymasterHash,
		chain,
		nonce,
		daModes,
		&deploymentHash,
		&calldataHash,
	)
	return h.BigInt(new(big.Int)), nil
}

func tipAndBoundsHash(tip string, bounds ResourceBounds) (felt.Felt, error) {
	if tip == "" {
		tip = "0x0"
	}
	tipFelt, err := feltFromHex("tip", tip)
	if err != nil {
		return felt.Felt{}, err
	}
	elems := []*felt.Felt{tipFelt}
	for _, b := range []struct {
		name  string
		bound ResourceBound
	}{
		{resourceL1Gas, bounds.L1Gas},
		{resourceL2Gas, bounds.L2Gas},
		{resourceL1DataGas, bounds.L1DataGas},
	} {
		packed, err := packBound(b.name, b.bound)
		if err != nil {
			return felt.Felt{}, err
		}
		elems = append(elems, new(felt.Felt).SetBigInt(packed))
	}
	return junocrypto.PoseidonArray(elems...), nil
}

// packBound lays out name (<=56 bits) || max_amount (64 bits) || max_price_per_unit (128 bits).
func packBound(name string, b ResourceBound) (*big.Int, error) {
	amount, price := b.MaxAmount, b.MaxPricePerUnit
	if amount == nil {
		amount = new(big.Int)
	}
	if price == nil {
		price = new(big.Int)
	}
	if amount.Sign() < 0 || amount.Cmp(maxU64) > 0 {
		return nil, fmt.Errorf("%s max_amount does not fit in u64", name)
	}
	if price.Sign() < 0 || price.Cmp(maxU128) > 0 {
		return nil, fmt.Errorf("%s max_price_per_unit does not fit in u128", name)
	}

	out := new(big.Int).Lsh(new(big.Int).SetBytes([]byte(name)), 192)
	out.Or(out, new(big.Int).Lsh(amount, 128))
	return out.Or(out, price), nil
}

func dataAvailabilityModes(nonceMode, feeMode string) (*felt.Felt, error) {
	n, err := daMode(nonceMode)
	if err != nil {
		return nil, fmt.Errorf("nonce_data_availability_mode: %w", err)
	}
	f, err := daMode(feeMode)
	if err != nil {
		return nil, fmt.Errorf("fee_data_availability_mode: %w", err)
	}
	return new(felt.Felt).SetUint64(n<<32 + f), nil
}

func daMode(s string) (uint64, error) {
	switch s {
	case "", "L1":
		return 0, nil
	case "L2":
		return 1, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

func poseidonOf(field string, values []string) (felt.Felt, error) {
	elems := make([]*felt.Felt, len(values))
	for i, v := range values {
		f, err := feltFromHex(fmt.Sprintf("%s[%d]", field, i), v)
		if err != nil {
			return felt.Felt{}, err
		}
		elems[i] = f
	}
	return junocrypto.PoseidonArray(elems...), nil
}

func feltFromHex(field, s string) (*felt.Felt, error) {
	v, err := ParseFelt(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return new(felt.Felt).SetBigInt(v), nil
}
