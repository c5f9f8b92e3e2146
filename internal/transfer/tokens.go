package transfer

import (
	"fmt"
	"sort"
	"strings"
)

// Networks with a token registry.
const (
	NetworkMainnet = "mainnet"
	NetworkSepolia = "sepolia"
)

// Token is an ERC-20 the wallet can move.
type Token struct {
	Symbol   string
	Address  string
	Decimals int32
}

const (
	ethAddress  = "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"
	strkAddress = "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"
)

var tokenRegistry = map[string]map[string]Token{
	NetworkMainnet: {
		"ETH":  {Symbol: "ETH", Address: ethAddress, Decimals: 18},
		"STRK": {Symbol: "STRK", Address: strkAddress, Decimals: 18},
		"USDC": {Symbol: "USDC", Address: "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a8", Decimals: 6},
	},
	NetworkSepolia: {
		"ETH":  {Symbol: "ETH", Address: ethAddress, Decimals: 18},
		"STRK": {Symbol: "STRK", Address: strkAddress, Decimals: 18},
		"USDC": {Symbol: "USDC", Address: "0x053b40a647cedfca6ca84f542a0fe36736031905a9639a7f19a3c1e66bfd5080", Decimals: 6},
	},
}

// LookupToken resolves symbol on network, case-insensitively.
func LookupToken(network, symbol string) (Token, error) {
	tokens, ok := tokenRegistry[strings.ToLower(network)]
	if !ok {
		return Token{}, fmt.Errorf("unknown network %q", network)
	}
	token, ok := tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s on %s", ErrUnknownToken, strings.ToUpper(symbol), network)
	}
	return token, nil
}

// Tokens lists the registry for network sorted by symbol.
func Tokens(network string) []Token {
	tokens := tokenRegistry[strings.ToLower(network)]
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
