package signerclient

import (
	"context"
	"regexp"
	"strings"

	apperrors "github.com/better-wallet/session-keyring/pkg/errors"
)

var sessionKeyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)

// SignRequest asks the signer to sign one session transaction.
type SignRequest struct {
	SessionKey  string
	Transaction Transaction
	Metadata    Metadata
}

// Transaction is the call being authorized.
type Transaction struct {
	ContractAddress string
	Entrypoint      string
	// Calldata must be non-nil; an empty slice is allowed.
	Calldata []string
}

// Metadata identifies the caller for the signer's audit log.
type Metadata struct {
	Requester     string
	Tool          string
	CorrelationID string
}

// SignResponse carries the ordered signature felts [pubkey, r, s, validUntil].
type SignResponse struct {
	Signature []string
	RequestID string
}

// Wire shapes are snake_case regardless of the Go model.
type signRequestWire struct {
	SessionKey  string          `json:"session_key"`
	Transaction transactionWire `json:"transaction"`
	Metadata    metadataWire    `json:"metadata"`
}

type transactionWire struct {
	ContractAddress string   `json:"contract_address"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata"`
}

type metadataWire struct {
	Requester     string `json:"requester"`
	Tool          string `json:"tool"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SignSessionTransaction validates req, then posts it to the signer.
// Validation order: base URL scheme, session key, metadata, transaction.
func (c *Client) SignSessionTransaction(ctx context.Context, req *SignRequest) (*SignResponse, error) {
	if err := c.validateBaseURL(); err != nil {
		return nil, err
	}
	if err := validateSignRequest(req); err != nil {
		return nil, err
	}

	body := signRequestWire{
		SessionKey: req.SessionKey,
		Transaction: transactionWire{
			ContractAddress: req.Transaction.ContractAddress,
			Entrypoint:      req.Transaction.Entrypoint,
			Calldata:        req.Transaction.Calldata,
		},
		Metadata: metadataWire{
			Requester:     req.Metadata.Requester,
			Tool:          req.Metadata.Tool,
			CorrelationID: req.Metadata.CorrelationID,
		},
	}

	raw, status, err := c.post(ctx, SessionSignPath, body)
	if err != nil {
		return nil, err
	}

	decoded, err := decodeSignResponse(raw, status)
	if err != nil {
		return nil, err
	}
	return &SignResponse{Signature: decoded.Signature, RequestID: decoded.RequestID}, nil
}

func validateSignRequest(req *SignRequest) error {
	if req == nil {
		return apperrors.Validation("sign request is required")
	}
	if !sessionKeyPattern.MatchString(req.SessionKey) {
		return apperrors.Validation("session key must be a 0x-prefixed hex string")
	}
	if strings.TrimSpace(req.Metadata.Requester) == "" {
		return apperrors.Validation("metadata.requester is required")
	}
	if strings.TrimSpace(req.Metadata.Tool) == "" {
		return apperrors.Validation("metadata.tool is required")
	}
	if strings.TrimSpace(req.Transaction.ContractAddress) == "" {
		return apperrors.Validation("transaction.contractAddress is required")
	}
	if strings.TrimSpace(req.Transaction.Entrypoint) == "" {
		return apperrors.Validation("transaction.entrypoint is required")
	}
	if req.Transaction.Calldata == nil {
		return apperrors.Validation("transaction.calldata must be an array")
	}
	return nil
}
