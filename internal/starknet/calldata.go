package starknet

import (
	"fmt"
	"math/big"
)

// EncodeExecuteCalldata encodes calls as the account __execute__ argument:
// [n, (to, selector, len, data...)...].
func EncodeExecuteCalldata(calls []Call) ([]string, error) {
	out := []string{FeltFromUint64(uint64(len(calls)))}
	for i, call := range calls {
		if !IsHexFelt(call.ContractAddress) {
			return nil, fmt.Errorf("call %d: invalid contract address %q", i, call.ContractAddress)
		}
		if call.Entrypoint == "" {
			return nil, fmt.Errorf("call %d: entrypoint is required", i)
		}
		out = append(out, NormalizeFelt(call.ContractAddress), Selector(call.Entrypoint),
			FeltFromUint64(uint64(len(call.Calldata))))
		for j, arg := range call.Calldata {
			v, err := ParseFelt(arg)
			if err != nil {
				return nil, fmt.Errorf("call %d arg %d: %w", i, j, err)
			}
			out = append(out, FeltHex(v))
		}
	}
	return out, nil
}

// U256Calldata returns the [low, high] felts of v.
func U256Calldata(v *big.Int) ([]string, error) {
	low, high, err := SplitU256(v)
	if err != nil {
		return nil, err
	}
	return []string{FeltHex(low), FeltHex(high)}, nil
}

// ParseU256 decodes a [low, high] pair starting at offset.
func ParseU256(felts []string, offset int) (*big.Int, error) {
	if len(felts) < offset+2 {
		return nil, fmt.Errorf("expected u256 at offset %d, got %d felts", offset, len(felts))
	}
	low, err := ParseFelt(felts[offset])
	if err != nil {
		return nil, fmt.Errorf("u256 low: %w", err)
	}
	high, err := ParseFelt(felts[offset+1])
	if err != nil {
		return nil, fmt.Errorf("u256 high: %w", err)
	}
	return JoinU256(low, high), nil
}
