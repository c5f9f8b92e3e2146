package starknet

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroAddress is the canonical zero felt used as an empty slot sentinel.
const ZeroAddress = "0x0"

var (
	// FieldPrime is 2^251 + 17*2^192 + 1.
	FieldPrime = func() *big.Int {
		p := new(big.Int).Lsh(big.NewInt(1), 251)
		p.Add(p, new(big.Int).Lsh(big.NewInt(17), 192))
		return p.Add(p, big.NewInt(1))
	}()

	maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxU256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	mask250 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

	hexFeltPattern = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)
)

// IsHexFelt reports whether s is a 0x-prefixed hex string.
func IsHexFelt(s string) bool {
	return hexFeltPattern.MatchString(s)
}

// ParseFelt parses a hex (0x) or decimal felt and checks it is in the field.
func ParseFelt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty felt")
	}

	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if len(s) == 2 {
			return nil, fmt.Errorf("invalid felt %q", s)
		}
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid felt %q", s)
	}
	if v.Sign() < 0 || v.Cmp(FieldPrime) >= 0 {
		return nil, fmt.Errorf("felt %q out of range", s)
	}
	return v, nil
}

// MustParseFelt panics on invalid input; for constants only.
func MustParseFelt(s string) *big.Int {
	v, err := ParseFelt(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FeltHex encodes v as minimal 0x-prefixed lowercase hex.
func FeltHex(v *big.Int) string {
	if v == nil {
		return ZeroAddress
	}
	return hexutil.EncodeBig(v)
}

// FeltFromUint64 encodes n as a felt hex string.
func FeltFromUint64(n uint64) string {
	return hexutil.EncodeUint64(n)
}

// NormalizeFelt returns the canonical hex form of s, or s unchanged if it
// does not parse.
func NormalizeFelt(s string) string {
	v, err := ParseFelt(s)
	if err != nil {
		return s
	}
	return FeltHex(v)
}

// EqualFelt compares two felts numerically, so leading zeros and case do
// not matter.
func EqualFelt(a, b string) bool {
	x, err := ParseFelt(a)
	if err != nil {
		return false
	}
	y, err := ParseFelt(b)
	if err != nil {
		return false
	}
	return x.Cmp(y) == 0
}

// IsZeroFelt reports whether s parses to zero.
func IsZeroFelt(s string) bool {
	v, err := ParseFelt(s)
	return err == nil && v.Sign() == 0
}

// SplitU256 splits v into its low and high 128-bit halves.
func SplitU256(v *big.Int) (low, high *big.Int, err error) {
	if v == nil || v.Sign() < 0 || v.Cmp(maxU256) > 0 {
		return nil, nil, fmt.Errorf("value out of u256 range")
	}
	low = new(big.Int).And(v, maxU128)
	high = new(big.Int).Rsh(v, 128)
	return low, high, nil
}

// JoinU256 recombines low + high*2^128.
func JoinU256(low, high *big.Int) *big.Int {
	v := new(big.Int).Lsh(high, 128)
	return v.Add(v, low)
}

// SNKeccak is keccak256 truncated to 250 bits.
func SNKeccak(data []byte) *big.Int {
	h := new(big.Int).SetBytes(crypto.Keccak256(data))
	return h.And(h, mask250)
}

// Selector returns the entry point selector for a function name.
func Selector(name string) string {
	return FeltHex(SNKeccak([]byte(name)))
}
