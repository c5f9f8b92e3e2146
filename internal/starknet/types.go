package starknet

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Execution and finality statuses reported by receipts.
const (
	ExecutionSucceeded = "SUCCEEDED"
	ExecutionReverted  = "REVERTED"

	FinalityAcceptedOnL2 = "ACCEPTED_ON_L2"
	FinalityAcceptedOnL1 = "ACCEPTED_ON_L1"
)

// Call is one contract invocation inside a multicall.
type Call struct {
	ContractAddress string   `json:"contractAddress"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata"`
}

// ResourceBound caps one gas category.
type ResourceBound struct {
	MaxAmount       *big.Int
	MaxPricePerUnit *big.Int
}

type resourceBoundWire struct {
	MaxAmount       string `json:"max_amount"`
	MaxPricePerUnit string `json:"max_price_per_unit"`
}

func (b ResourceBound) MarshalJSON() ([]byte, error) {
	return json.Marshal(resourceBoundWire{
		MaxAmount:       FeltHex(b.MaxAmount),
		MaxPricePerUnit: FeltHex(b.MaxPricePerUnit),
	})
}

func (b *ResourceBound) UnmarshalJSON(data []byte) error {
	var wire resourceBoundWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	amount, err := ParseFelt(wire.MaxAmount)
	if err != nil {
		return fmt.Errorf("max_amount: %w", err)
	}
	price, err := ParseFelt(wire.MaxPricePerUnit)
	if err != nil {
		return fmt.Errorf("max_price_per_unit: %w", err)
	}
	b.MaxAmount, b.MaxPricePerUnit = amount, price
	return nil
}

// Bump returns a copy with the amount and price raised by whole percentages.
func (b ResourceBound) Bump(amountPct, pricePct int64) ResourceBound {
	return ResourceBound{
		MaxAmount:       addPercent(b.MaxAmount, amountPct),
		MaxPricePerUnit: addPercent(b.MaxPricePerUnit, pricePct),
	}
}

// ResourceBounds are the v3 fee ceilings.
type ResourceBounds struct {
	L1Gas     ResourceBound `json:"l1_gas"`
	L1DataGas ResourceBound `json:"l1_data_gas"`
	L2Gas     ResourceBound `json:"l2_gas"`
}

// FeeEstimate is the result of starknet_estimateFee for one transaction.
type FeeEstimate struct {
	L1GasConsumed     string `json:"l1_gas_consumed"`
	L1GasPrice        string `json:"l1_gas_price"`
	L2GasConsumed     string `json:"l2_gas_consumed"`
	L2GasPrice        string `json:"l2_gas_price"`
	L1DataGasConsumed string `json:"l1_data_gas_consumed"`
	L1DataGasPrice    string `json:"l1_data_gas_price"`
	OverallFee        string `json:"overall_fee"`
	Unit              string `json:"unit"`
}

// ResourceBounds converts the estimate to bounds without any margin.
func (e *FeeEstimate) ResourceBounds() (ResourceBounds, error) {
	var out ResourceBounds
	fields := []struct {
		name          string
		amount, price string
		dst           *ResourceBound
	}{
		{"l1_gas", e.L1GasConsumed, e.L1GasPrice, &out.L1Gas},
		{"l1_data_gas", e.L1DataGasConsumed, e.L1DataGasPrice, &out.L1DataGas},
		{"l2_gas", e.L2GasConsumed, e.L2GasPrice, &out.L2Gas},
	}
	for _, f := range fields {
		amount, err := parseOptionalFelt(f.amount)
		if err != nil {
			return ResourceBounds{}, fmt.Errorf("%s consumed: %w", f.name, err)
		}
		price, err := parseOptionalFelt(f.price)
		if err != nil {
			return ResourceBounds{}, fmt.Errorf("%s price: %w", f.name, err)
		}
		*f.dst = ResourceBound{MaxAmount: amount, MaxPricePerUnit: price}
	}
	return out, nil
}

// BoundsFromEstimate applies the default 50% margin to amounts and prices.
func BoundsFromEstimate(e *FeeEstimate) (ResourceBounds, error) {
	bounds, err := e.ResourceBounds()
	if err != nil {
		return ResourceBounds{}, err
	}
	return ResourceBounds{
		L1Gas:     bounds.L1Gas.Bump(50, 50),
		L1DataGas: bounds.L1DataGas.Bump(50, 50),
		L2Gas:     bounds.L2Gas.Bump(50, 50),
	}, nil
}

// InvokeTransaction is the v3 broadcasted invoke transaction.
type InvokeTransaction struct {
	Type                      string         `json:"type"`
	SenderAddress             string         `json:"sender_address"`
	Calldata                  []string       `json:"calldata"`
	Version                   string         `json:"version"`
	Signature                 []string       `json:"signature"`
	Nonce                     string         `json:"nonce"`
	ResourceBounds            ResourceBounds `json:"resource_bounds"`
	Tip                       string         `json:"tip"`
	PaymasterData             []string       `json:"paymaster_data"`
	AccountDeploymentData     []string       `json:"account_deployment_data"`
	NonceDataAvailabilityMode string         `json:"nonce_data_availability_mode"`
	FeeDataAvailabilityMode   string         `json:"fee_data_availability_mode"`
}

// NewInvokeTransaction fills the v3 defaults.
func NewInvokeTransaction(sender string, calldata []string, nonce *big.Int, bounds ResourceBounds) *InvokeTransaction {
	return &InvokeTransaction{
		Type:                      "INVOKE",
		SenderAddress:             sender,
		Calldata:                  calldata,
		Version:                   "0x3",
		Signature:                 []string{},
		Nonce:                     FeltHex(nonce),
		ResourceBounds:            bounds,
		Tip:                       "0x0",
		PaymasterData:             []string{},
		AccountDeploymentData:     []string{},
		NonceDataAvailabilityMode: "L1",
		FeeDataAvailabilityMode:   "L1",
	}
}

// Receipt is the subset of a transaction receipt the subsystem reads.
type Receipt struct {
	TransactionHash string `json:"transaction_hash"`
	ExecutionStatus string `json:"execution_status"`
	FinalityStatus  string `json:"finality_status"`
	RevertReason    string `json:"revert_reason,omitempty"`
	BlockNumber     uint64 `json:"block_number,omitempty"`
}

// Reverted reports whether execution reverted.
func (r *Receipt) Reverted() bool {
	return r.ExecutionStatus == ExecutionReverted
}

func parseOptionalFelt(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	return ParseFelt(s)
}

func addPercent(v *big.Int, pct int64) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(v, big.NewInt(100+pct))
	return out.Quo(out, big.NewInt(100))
}
