package sessionkeys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/better-wallet/session-keyring/internal/starknet"
)

// MaxAllowedContracts is the number of target slots in the on-chain policy.
const MaxAllowedContracts = 4

// Account contract entrypoints.
const (
	EntrypointRegister       = "register_session_key"
	EntrypointRevoke         = "revoke_session_key"
	EntrypointRevokeAll      = "emergency_revoke_all"
	EntrypointGetSessionData = "get_session_data"
)

// PadAllowedContracts returns exactly four slots, truncating extra entries
// and filling unused slots with the zero address.
func PadAllowedContracts(contracts []string) []string {
	slots := make([]string, MaxAllowedContracts)
	for i := range slots {
		slots[i] = starknet.ZeroAddress
		if i < len(contracts) {
			slots[i] = strings.TrimSpace(contracts[i])
		}
	}
	return slots
}

// UnpadAllowedContracts drops zero-address slots. An all-zero input yields an
// empty, non-nil slice.
func UnpadAllowedContracts(slots []string) []string {
	out := []string{}
	for _, s := range slots {
		if s == "" || starknet.IsZeroFelt(s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// RegisterCalldata encodes p as
// [pubkey, valid_after, valid_until, limit_low, limit_high, token, target0..3].
func RegisterCalldata(p *Policy) ([]string, error) {
	limit, err := p.SpendingLimitInt()
	if err != nil {
		return nil, err
	}
	limitFelts, err := starknet.U256Calldata(limit)
	if err != nil {
		return nil, err
	}
	if p.ValidAfter < 0 || p.ValidUntil < 0 {
		return nil, fmt.Errorf("validity window must be non-negative")
	}

	calldata := []string{
		starknet.NormalizeFelt(p.PublicKey),
		starknet.FeltFromUint64(uint64(p.ValidAfter)),
		starknet.FeltFromUint64(uint64(p.ValidUntil)),
	}
	calldata = append(calldata, limitFelts...)
	calldata = append(calldata, starknet.NormalizeFelt(p.TokenAddress))
	for _, target := range PadAllowedContracts(p.AllowedContracts) {
		calldata = append(calldata, starknet.NormalizeFelt(target))
	}
	return calldata, nil
}

// RegisterCall targets the account contract itself.
func RegisterCall(accountAddress string, p *Policy) (starknet.Call, error) {
	calldata, err := RegisterCalldata(p)
	if err != nil {
		return starknet.Call{}, err
	}
	return starknet.Call{ContractAddress: accountAddress, Entrypoint: EntrypointRegister, Calldata: calldata}, nil
}

func RevokeCall(accountAddress, publicKey string) starknet.Call {
	return starknet.Call{
		ContractAddress: accountAddress,
		Entrypoint:      EntrypointRevoke,
		Calldata:        []string{starknet.NormalizeFelt(publicKey)},
	}
}

func RevokeAllCall(accountAddress string) starknet.Call {
	return starknet.Call{ContractAddress: accountAddress, Entrypoint: EntrypointRevokeAll, Calldata: []string{}}
}

func SessionDataCall(accountAddress, publicKey string) starknet.Call {
	return starknet.Call{
		ContractAddress: accountAddress,
		Entrypoint:      EntrypointGetSessionData,
		Calldata:        []string{starknet.NormalizeFelt(publicKey)},
	}
}

// SessionData is the on-chain state of a session key.
type SessionData struct {
	ValidUntil uint64
	MaxCalls   uint64
	CallsUsed  uint64
}

// ParseSessionData decodes [valid_until, max_calls, calls_used, ...].
func ParseSessionData(felts []string) (*SessionData, error) {
	if len(felts) < 3 {
		return nil, fmt.Errorf("session data needs 3 felts, got %d", len(felts))
	}
	values := make([]uint64, 3)
	for i := range values {
		v, err := starknet.ParseFelt(felts[i])
		if err != nil {
			return nil, fmt.Errorf("session data field %d: %w", i, err)
		}
		if !v.IsUint64() {
			return nil, fmt.Errorf("session data field %d overflows", i)
		}
		values[i] = v.Uint64()
	}
	return &SessionData{ValidUntil: values[0], MaxCalls: values[1], CallsUsed: values[2]}, nil
}

// ValidAt reports whether the key can still be used at unix time now.
func (d *SessionData) ValidAt(now int64) bool {
	return now >= 0 && d.ValidUntil > uint64(now) && d.CallsUsed < d.MaxCalls
}

func (d *SessionData) String() string {
	return "valid_until=" + strconv.FormatUint(d.ValidUntil, 10) +
		" calls=" + strconv.FormatUint(d.CallsUsed, 10) + "/" + strconv.FormatUint(d.MaxCalls, 10)
}
