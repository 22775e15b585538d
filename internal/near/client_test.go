package near

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	xerrors "SwapAgent-Chain/internal/errors"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

type rpcCall struct {
	Method string
	Params json.RawMessage
}

type fakeNode struct {
	mu     sync.Mutex
	calls  []rpcCall
	handle func(method string, params json.RawMessage) (any, map[string]any)
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.calls = append(n.calls, rpcCall{Method: req.Method, Params: req.Params})
	n.mu.Unlock()

	result, rpcErr := n.handle(req.Method, req.Params)
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, WithRateLimit(0, 0))
	require.NoError(t, err)
	return client
}

func viewBytes(v any) []int {
	raw, _ := json.Marshal(v)
	out := make([]int, len(raw))
	for i, b := range raw {
		out[i] = int(b)
	}
	return out
}

func TestGetBalanceFormatsYocto(t *testing.T) {
	node := &fakeNode{handle: func(method string, params json.RawMessage) (any, map[string]any) {
		return map[string]any{"amount": "2500000000000000000000000", "locked": "0"}, nil
	}}
	client := newTestClient(t, node)

	balance, err := client.GetBalance(context.Background(), "agent.testnet")
	require.NoError(t, err)
	require.Equal(t, "2.5", balance)
}

func TestViewAccountNotFound(t *testing.T) {
	node := &fakeNode{handle: func(method string, params json.RawMessage) (any, map[string]any) {
		return nil, map[string]any{
			"name":    "HANDLER_ERROR",
			"message": "Server error",
			"cause":   map[string]any{"name": "UNKNOWN_ACCOUNT"},
		}
	}}
	client := newTestClient(t, node)

	_, err := client.ViewAccount(context.Background(), "ghost.testnet")
	require.Error(t, err)
	require.Equal(t, CodeAccountNotFound, xerrors.CodeOf(err))
}

func TestCallViewDecodesResultBytes(t *testing.T) {
	node := &fakeNode{handle: func(method string, params json.RawMessage) (any, map[string]any) {
		var p struct {
			MethodName string `json:"method_name"`
			ArgsBase64 string `json:"args_base64"`
		}
		_ = json.Unmarshal(params, &p)
		args, _ := base64.StdEncoding.DecodeString(p.ArgsBase64)
		if p.MethodName != "ft_balance_of" || string(args) != `{"account_id":"agent.testnet"}` {
			return nil, map[string]any{"message": "unexpected call"}
		}
		return map[string]any{"result": viewBytes("12345"), "logs": []string{}}, nil
	}}
	client := newTestClient(t, node)

	var balance string
	err := client.CallView(context.Background(), "wrap.testnet", "ft_balance_of", map[string]string{"account_id": "agent.testnet"}, &balance)
	require.NoError(t, err)
	require.Equal(t, "12345", balance)
}

func TestCallViewSurfacesContractError(t *testing.T) {
	node := &fakeNode{handle: func(method string, params json.RawMessage) (any, map[string]any) {
		return map[string]any{"error": "wasm execution failed", "logs": []string{}}, nil
	}}
	client := newTestClient(t, node)

	err := client.CallView(context.Background(), "dex.testnet", "get_pools", nil, nil)
	require.Error(t, err)
	require.Equal(t, CodeRPCFailure, xerrors.CodeOf(err))
}

func TestSignAndSendBroadcastsSignedTransaction(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)
	blockHash := base58.Encode(make([]byte, 32))

	var broadcast []string
	node := &fakeNode{handle: func(method string, params json.RawMessage) (any, map[string]any) {
		switch method {
		case "query":
			return map[string]any{"nonce": 41, "block_hash": blockHash, "permission": "FullAccess"}, nil
		case "broadcast_tx_async":
			_ = json.Unmarshal(params, &broadcast)
			return "HASH123", nil
		}
		return nil, map[string]any{"message": "unexpected method " + method}
	}}
	client := newTestClient(t, node)

	hash, err := client.SignAndSend(context.Background(), key, "agent.testnet", "wrap.testnet", FunctionCall{
		MethodName: "near_deposit",
		Args:       []byte("{}"),
		Gas:        DefaultGas,
		Deposit:    "1",
	})
	require.NoError(t, err)
	require.Equal(t, "HASH123", hash)
	require.Len(t, broadcast, 1)

	encoded, err := base64.StdEncoding.DecodeString(broadcast[0])
	require.NoError(t, err)
	// nonce sits after signer id (4+13), key type and public key
	nonceOffset := 4 + len("agent.testnet") + 1 + 32
	require.Equal(t, byte(42), encoded[nonceOffset])
}

func TestTxStatusStates(t *testing.T) {
	responses := []func() (any, map[string]any){
		func() (any, map[string]any) {
			return nil, map[string]any{"message": "tx not found", "cause": map[string]any{"name": "UNKNOWN_TRANSACTION"}}
		},
		func() (any, map[string]any) {
			return map[string]any{"status": "Started"}, nil
		},
		func() (any, map[string]any) {
			return map[string]any{"status": map[string]any{"SuccessValue": ""}}, nil
		},
		func() (any, map[string]any) {
			return map[string]any{"status": map[string]any{"Failure": map[string]any{"ActionError": "boom"}}}, nil
		},
	}
	var idx int
	node := &fakeNode{handle: func(method string, params json.RawMessage) (any, map[string]any) {
		r := responses[idx]
		idx++
		return r()
	}}
	client := newTestClient(t, node)
	ctx := context.Background()

	outcome, err := client.TxStatus(ctx, "h", "agent.testnet")
	require.NoError(t, err)
	require.False(t, outcome.Final)

	outcome, err = client.TxStatus(ctx, "h", "agent.testnet")
	require.NoError(t, err)
	require.False(t, outcome.Final)

	outcome, err = client.TxStatus(ctx, "h", "agent.testnet")
	require.NoError(t, err)
	require.True(t, outcome.Final)

	_, err = client.TxStatus(ctx, "h", "agent.testnet")
	require.Error(t, err)
	require.Equal(t, CodeTxFailed, xerrors.CodeOf(err))
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
	require.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))
}
