package transfer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/better-wallet/session-keyring/internal/starknet"
)

var intentPattern = regexp.MustCompile(
	`(?i)^\s*(?:send|transfer|pay)\s+([0-9]+(?:\.[0-9]+)?)\s+([a-z][a-z0-9]*)\s+to\s+(0x[0-9a-f]+)\s*$`)

// Intent is a parsed transfer request.
type Intent struct {
	Amount      string
	TokenSymbol string
	To          string
}

// ParseIntent reads "send|transfer|pay <amount> <SYMBOL> to <0xaddress>".
func ParseIntent(text string) (*Intent, error) {
	m := intentPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("%w: expected \"send <amount> <TOKEN> to <0xaddress>\"", ErrInvalidIntent)
	}
	return &Intent{Amount: m[1], TokenSymbol: strings.ToUpper(m[2]), To: m[3]}, nil
}

func (i *Intent) validate() error {
	if strings.TrimSpace(i.Amount) == "" || strings.TrimSpace(i.TokenSymbol) == "" {
		return fmt.Errorf("%w: amount and token are required", ErrInvalidIntent)
	}
	if !starknet.IsHexFelt(i.To) {
		return fmt.Errorf("%w: recipient %q is not a hex address", ErrInvalidIntent, i.To)
	}
	if starknet.IsZeroFelt(i.To) {
		return fmt.Errorf("%w: recipient is the zero address", ErrInvalidIntent)
	}
	if _, err := starknet.ParseFelt(i.To); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	return nil
}
