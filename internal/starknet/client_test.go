package starknet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/session-keyring/internal/rpc"
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeNode is a minimal Starknet JSON-RPC node keyed by method name.
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]func(params json.RawMessage) (any, *rpcError)
	calls    map[string][]json.RawMessage
}

func newFakeNode(t *testing.T) (*fakeNode, *Client) {
	t.Helper()
	node := &fakeNode{
		handlers: make(map[string]func(json.RawMessage) (any, *rpcError)),
		calls:    make(map[string][]json.RawMessage),
	}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	client, err := NewClient(rpc.NewTransport(), srv.URL, rpc.Options{
		Timeout:   time.Second,
		BaseDelay: time.Millisecond,
		MaxDelay:  time.Millisecond,
	})
	require.NoError(t, err)
	return node, client
}

func (n *fakeNode) handle(method string, fn func(params json.RawMessage) (any, *rpcError)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = fn
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls[method])
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method] = append(n.calls[req.Method], req.Params)
	fn := n.handlers[req.Method]
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if fn == nil {
		resp["error"] = rpcError{Code: -32601, Message: "method not found"}
	} else if result, rpcErr := fn(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestClient_ChainIDIsCached(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("starknet_chainId", func(json.RawMessage) (any, *rpcError) {
		return "0x534e5f5345504f4c4941", nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		chainID, err := client.ChainID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "0x534e5f5345504f4c4941", chainID)
	}
	assert.Equal(t, 1, node.callCount("starknet_chainId"))
}

func TestClient_CallAndBalance(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("starknet_call", func(params json.RawMessage) (any, *rpcError) {
		var args []json.RawMessage
		require.NoError(t, json.Unmarshal(params, &args))
		require.Len(t, args, 2)

		var request struct {
			ContractAddress    string   `json:"contract_address"`
			EntryPointSelector string   `json:"entry_point_selector"`
			Calldata           []string `json:"calldata"`
		}
		require.NoError(t, json.Unmarshal(args[0], &request))
		assert.Equal(t, Selector("balanceOf"), request.EntryPointSelector)
		assert.Equal(t, []string{"0xabc"}, request.Calldata)
		return []string{"0x1", "0x1"}, nil
	})

	balance, err := client.BalanceOf(context.Background(), "0x123", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "340282366920938463463374607431768211457", balance.String())
}

func TestClient_IsDeployed(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("starknet_getClassHashAt", func(params json.RawMessage) (any, *rpcError) {
		var args []string
		require.NoError(t, json.Unmarshal(params, &args))
		if args[1] == "0x1" {
			return "0xc1a55", nil
		}
		return nil, &rpcError{Code: ErrCodeContractNotFound, Message: "Contract not found"}
	})

	ctx := context.Background()
	deployed, err := client.IsDeployed(ctx, "0x1")
	require.NoError(t, err)
	assert.True(t, deployed)

	deployed, err = client.IsDeployed(ctx, "0x2")
	require.NoError(t, err)
	assert.False(t, deployed)
}

func TestClient_SubmitFlow(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("starknet_getNonce", func(json.RawMessage) (any, *rpcError) {
		return "0x7", nil
	})
	node.handle("starknet_estimateFee", func(params json.RawMessage) (any, *rpcError) {
		var args []json.RawMessage
		require.NoError(t, json.Unmarshal(params, &args))
		assert.JSONEq(t, `["SKIP_VALIDATE"]`, string(args[1]))
		return []FeeEstimate{{L1GasConsumed: "0x1", L1GasPrice: "0x2", L2GasConsumed: "0x3", L2GasPrice: "0x4"}}, nil
	})
	node.handle("starknet_addInvokeTransaction", func(params json.RawMessage) (any, *rpcError) {
		var args []InvokeTransaction
		require.NoError(t, json.Unmarshal(params, &args))
		assert.Equal(t, "0x3", args[0].Version)
		assert.Equal(t, "0x7", args[0].Nonce)
		assert.Equal(t, []string{"0x1", "0x2"}, args[0].Signature)
		return map[string]string{"transaction_hash": "0xfeed"}, nil
	})

	ctx := context.Background()
	nonce, err := client.Nonce(ctx, "0xacc")
	require.NoError(t, err)
	assert.Equal(t, int64(7), nonce.Int64())

	tx := NewInvokeTransaction("0xacc", []string{"0x0"}, nonce, ResourceBounds{})
	estimate, err := client.EstimateFee(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, "0x3", estimate.L2GasConsumed)

	tx.Signature = []string{"0x1", "0x2"}
	hash, err := client.AddInvokeTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", hash)
}

func TestClient_WaitForReceipt(t *testing.T) {
	opts := WaitOptions{Interval: time.Millisecond, MaxAttempts: 5}

	t.Run("polls until the receipt appears", func(t *testing.T) {
		node, client := newFakeNode(t)
		var polls int
		node.handle("starknet_getTransactionReceipt", func(json.RawMessage) (any, *rpcError) {
			polls++
			if polls < 3 {
				return nil, &rpcError{Code: ErrCodeTxHashNotFound, Message: "Transaction hash not found"}
			}
			return Receipt{TransactionHash: "0xfeed", ExecutionStatus: ExecutionReverted,
				FinalityStatus: FinalityAcceptedOnL2, RevertReason: "Insufficient max L2Gas"}, nil
		})

		receipt, err := client.WaitForReceipt(context.Background(), "0xfeed", opts)
		require.NoError(t, err)
		assert.True(t, receipt.Reverted())
		assert.Equal(t, 3, node.callCount("starknet_getTransactionReceipt"))
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		node, client := newFakeNode(t)
		node.handle("starknet_getTransactionReceipt", func(json.RawMessage) (any, *rpcError) {
			return nil, &rpcError{Code: ErrCodeTxHashNotFound, Message: "Transaction hash not found"}
		})

		_, err := client.WaitForReceipt(context.Background(), "0xdead", opts)
		require.Error(t, err)
		assert.True(t, HasRPCCode(err, ErrCodeTxHashNotFound))
		assert.Equal(t, 5, node.callCount("starknet_getTransactionReceipt"))
	})
}
