package chain

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

	"consentis/internal/wallet"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

var testContract = domain.MustAddress("0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0")

// rpcRecorder is a scriptable JSON-RPC node.
type rpcRecorder struct {
	mu       sync.Mutex
	requests []rpcRequest
	respond  func(req rpcRequest) (any, *rpcError)
}

func (n *rpcRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		n.mu.Lock()
		n.requests = append(n.requests, req)
		n.mu.Unlock()

		result, rpcErr := n.respond(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func (n *rpcRecorder) lastParams(t *testing.T) map[string]any {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.requests)
	raw, err := json.Marshal(n.requests[len(n.requests)-1].Params)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func connectedWallet(t *testing.T) *wallet.LocalWallet {
	t.Helper()
	w, err := wallet.NewLocal()
	require.NoError(t, err)
	w.Connect()
	return w
}

func TestRPCSubmitSignsAndSends(t *testing.T) {
	node := &rpcRecorder{respond: func(req rpcRequest) (any, *rpcError) {
		assert.Equal(t, "registry_sendTransaction", req.Method)
		return map[string]string{"hash": "0xabc123"}, nil
	}}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	w := connectedWallet(t)
	from, _ := w.Address()
	client := NewRPCClient(srv.URL, testContract, w)

	recordID := domain.NewRecordID()
	researcher := domain.MustAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	hash, err := client.GrantConsent(context.Background(), researcher, recordID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxHash("0xabc123"), hash)

	params := node.lastParams(t)
	assert.Equal(t, from.String(), params["from"])
	assert.Equal(t, testContract.String(), params["contract"])
	assert.Equal(t, "grantConsent", params["method"])
	assert.Equal(t, []any{researcher.String(), recordID.String()}, params["args"])
	assert.NotEmpty(t, params["signature"])
}

func TestRPCSubmitRequiresWallet(t *testing.T) {
	w, err := wallet.NewLocal()
	require.NoError(t, err)
	client := NewRPCClient("http://unreachable.invalid", testContract, w)

	_, err = client.RegisterRecord(context.Background(), domain.NewRecordID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeWalletNotConnected))
}

func TestRPCNodeRejection(t *testing.T) {
	node := &rpcRecorder{respond: func(rpcRequest) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "nonce too low"}
	}}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	client := NewRPCClient(srv.URL, testContract, connectedWallet(t))
	_, err := client.RegisterRecord(context.Background(), domain.NewRecordID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransactionRejected))
}

func TestRPCHasConsent(t *testing.T) {
	granted := false
	node := &rpcRecorder{respond: func(req rpcRequest) (any, *rpcError) {
		assert.Equal(t, "registry_call", req.Method)
		return map[string]bool{"value": granted}, nil
	}}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	client := NewRPCClient(srv.URL, testContract, connectedWallet(t))
	owner := domain.MustAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	researcher := domain.MustAddress("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")

	ok, err := client.HasConsent(context.Background(), owner, researcher, domain.NewRecordID())
	require.NoError(t, err)
	assert.False(t, ok)

	granted = true
	ok, err = client.HasConsent(context.Background(), owner, researcher, domain.NewRecordID())
	require.NoError(t, err)
	assert.True(t, ok)

	params := node.lastParams(t)
	assert.Equal(t, "hasConsent", params["method"])
}

func TestRPCWaitConfirmed(t *testing.T) {
	var polls int
	node := &rpcRecorder{respond: func(req rpcRequest) (any, *rpcError) {
		require.Equal(t, "registry_getReceipt", req.Method)
		polls++
		switch {
		case polls == 1:
			// Not yet included.
			return nil, &rpcError{Code: rpcCodeNotFound, Message: "transaction not found"}
		case polls == 2:
			return map[string]any{"status": "included", "confirmations": 0}, nil
		default:
			return map[string]any{"status": "included", "confirmations": 1}, nil
		}
	}}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	client := NewRPCClient(srv.URL, testContract, connectedWallet(t),
		WithPollInterval(time.Millisecond))

	err := client.WaitConfirmed(context.Background(), "0xabc", 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, polls, 3)
}

func TestRPCWaitConfirmedReverted(t *testing.T) {
	node := &rpcRecorder{respond: func(rpcRequest) (any, *rpcError) {
		return map[string]any{"status": "reverted", "confirmations": 1}, nil
	}}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	client := NewRPCClient(srv.URL, testContract, connectedWallet(t),
		WithPollInterval(time.Millisecond))

	err := client.WaitConfirmed(context.Background(), "0xabc", 1)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransactionRejected))
}

func TestRPCWaitConfirmedCanceled(t *testing.T) {
	node := &rpcRecorder{respond: func(rpcRequest) (any, *rpcError) {
		return nil, &rpcError{Code: rpcCodeNotFound, Message: "transaction not found"}
	}}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()

	client := NewRPCClient(srv.URL, testContract, connectedWallet(t),
		WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.WaitConfirmed(ctx, "0xabc", 1)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}
