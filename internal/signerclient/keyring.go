package signerclient

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/better-wallet/session-keyring/internal/starknet"
	apperrors "github.com/better-wallet/session-keyring/pkg/errors"
)

// KeyringCall is one call of the invoke being signed.
type KeyringCall struct {
	ContractAddress string   `json:"contractAddress"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata"`
}

// KeyringContext is the audit context attached to a keyring signing request.
type KeyringContext struct {
	Requester      string `json:"requester"`
	Tool           string `json:"tool"`
	ClientID       string `json:"client_id"`
	MobileActionID string `json:"mobile_action_id"`
	Reason         string `json:"reason"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// KeyringRequest is the body of POST /v1/sign/session-transaction.
type KeyringRequest struct {
	AccountAddress string         `json:"accountAddress"`
	ChainID        string         `json:"chainId"`
	Nonce          string         `json:"nonce"`
	ValidUntil     int64          `json:"validUntil"`
	Calls          []KeyringCall  `json:"calls"`
	Context        KeyringContext `json:"context"`
}

// KeyringResponse is the normalized signer answer.
type KeyringResponse struct {
	Signature        []string
	RequestID        string
	MessageHash      string
	SessionPublicKey string
}

// SignKeyringTransaction posts a full invoke to the keyring proxy.
func (c *Client) SignKeyringTransaction(ctx context.Context, req *KeyringRequest) (*KeyringResponse, error) {
	if err := c.validateBaseURL(); err != nil {
		return nil, err
	}
	if err := validateKeyringRequest(req); err != nil {
		return nil, err
	}

	raw, status, err := c.post(ctx, KeyringSignPath, req)
	if err != nil {
		return nil, err
	}
	return decodeSignResponse(raw, status)
}

func validateKeyringRequest(req *KeyringRequest) error {
	if req == nil {
		return apperrors.Validation("keyring request is required")
	}
	if !starknet.IsHexFelt(req.AccountAddress) {
		return apperrors.Validation("accountAddress must be a 0x-prefixed hex string")
	}
	if strings.TrimSpace(req.ChainID) == "" || strings.TrimSpace(req.Nonce) == "" {
		return apperrors.Validation("chainId and nonce are required")
	}
	if len(req.Calls) == 0 {
		return apperrors.Validation("at least one call is required")
	}
	for _, call := range req.Calls {
		if strings.TrimSpace(call.ContractAddress) == "" || strings.TrimSpace(call.Entrypoint) == "" {
			return apperrors.Validation("every call needs contractAddress and entrypoint")
		}
		if call.Calldata == nil {
			return apperrors.Validation("call calldata must be an array")
		}
	}
	if strings.TrimSpace(req.Context.Requester) == "" || strings.TrimSpace(req.Context.Tool) == "" {
		return apperrors.Validation("context.requester and context.tool are required")
	}
	return nil
}

// signResponseWire accepts both field spellings seen across signer versions.
type signResponseWire struct {
	Signature             []string `json:"signature"`
	RequestIDSnake        string   `json:"request_id"`
	RequestIDCamel        string   `json:"requestId"`
	MessageHashSnake      string   `json:"message_hash"`
	MessageHashCamel      string   `json:"messageHash"`
	SessionPublicKeySnake string   `json:"session_public_key"`
	SessionPublicKeyCamel string   `json:"sessionPublicKey"`
}

// decodeSignResponse normalizes a 2xx body. Precedence: the snake_case field
// wins, the camelCase field is the fallback.
func decodeSignResponse(raw []byte, status int) (*KeyringResponse, error) {
	var wire signResponseWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &apperrors.SignerError{
			Code:       apperrors.ErrCodeUnknown,
			Message:    "signer returned an unreadable response",
			HTTPStatus: status,
		}
	}
	if len(wire.Signature) == 0 {
		return nil, &apperrors.SignerError{
			Code:       apperrors.ErrCodeUnknown,
			Message:    "signer response is missing a signature",
			HTTPStatus: status,
		}
	}

	return &KeyringResponse{
		Signature:        wire.Signature,
		RequestID:        firstNonEmpty(wire.RequestIDSnake, wire.RequestIDCamel),
		MessageHash:      firstNonEmpty(wire.MessageHashSnake, wire.MessageHashCamel),
		SessionPublicKey: firstNonEmpty(wire.SessionPublicKeySnake, wire.SessionPublicKeyCamel),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
