package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"consentis/contracts/registry"
	"consentis/internal/wallet"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

// RPCClient talks JSON-RPC to a node that fronts the consent registry.
// Transactions are signed through the wallet boundary before submission, so
// Submit blocks on user approval.
type RPCClient struct {
	url          string
	contract     domain.Address
	wallet       wallet.Wallet
	http         *http.Client
	pollInterval time.Duration
}

// RPCOption configures an RPCClient.
type RPCOption func(*RPCClient)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) RPCOption {
	return func(r *RPCClient) { r.http = c }
}

// WithPollInterval sets the receipt polling interval. Default 2s.
func WithPollInterval(d time.Duration) RPCOption {
	return func(r *RPCClient) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// NewRPCClient binds a node URL and contract address to a signing wallet.
func NewRPCClient(url string, contract domain.Address, w wallet.Wallet, opts ...RPCOption) *RPCClient {
	c := &RPCClient{
		url:          url,
		contract:     contract,
		wallet:       w,
		http:         &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RPCClient) GrantConsent(ctx context.Context, researcher domain.Address, recordID domain.RecordID) (domain.TxHash, error) {
	return c.submit(ctx, registry.MethodGrantConsent, researcher.String(), recordID.String())
}

func (c *RPCClient) RevokeConsent(ctx context.Context, researcher domain.Address, recordID domain.RecordID) (domain.TxHash, error) {
	return c.submit(ctx, registry.MethodRevokeConsent, researcher.String(), recordID.String())
}

func (c *RPCClient) RegisterRecord(ctx context.Context, recordID domain.RecordID) (domain.TxHash, error) {
	return c.submit(ctx, registry.MethodRegisterRecord, recordID.String())
}

func (c *RPCClient) HasConsent(ctx context.Context, owner, researcher domain.Address, recordID domain.RecordID) (bool, error) {
	var result struct {
		Value bool `json:"value"`
	}
	err := c.rpc(ctx, "registry_call", callParams{
		Contract: c.contract.String(),
		Method:   registry.MethodHasConsent,
		Args:     []string{owner.String(), researcher.String(), recordID.String()},
	}, &result)
	if err != nil {
		return false, err
	}
	return result.Value, nil
}

// WaitConfirmed polls the node for a receipt until the transaction has the
// required confirmations, reverts, or ctx is done.
func (c *RPCClient) WaitConfirmed(ctx context.Context, hash domain.TxHash, confirmations int) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var receipt struct {
			Status        string `json:"status"`
			Confirmations int    `json:"confirmations"`
		}
		err := c.rpc(ctx, "registry_getReceipt", receiptParams{Hash: hash.String()}, &receipt)
		switch {
		case dErrors.HasCode(err, dErrors.CodeNotFound):
			// Not yet included; keep polling.
		case err != nil:
			return err
		case receipt.Status == "reverted":
			return dErrors.New(dErrors.CodeTransactionRejected, "transaction reverted on chain")
		case receipt.Confirmations >= confirmations:
			return nil
		}

		select {
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "confirmation wait canceled")
		case <-ticker.C:
		}
	}
}

type callParams struct {
	Contract string   `json:"contract"`
	Method   string   `json:"method"`
	Args     []string `json:"args"`
}

type receiptParams struct {
	Hash string `json:"hash"`
}

type txParams struct {
	From      string   `json:"from"`
	Contract  string   `json:"contract"`
	Method    string   `json:"method"`
	Args      []string `json:"args"`
	Signature string   `json:"signature"`
}

// submit signs the canonical transaction payload through the wallet and
// sends it to the node. A user declining the signature surfaces as
// transaction_rejected before anything reaches the node.
func (c *RPCClient) submit(ctx context.Context, method string, args ...string) (domain.TxHash, error) {
	from, ok := c.wallet.Address()
	if !ok {
		return "", dErrors.New(dErrors.CodeWalletNotConnected, "wallet not connected")
	}

	payload := signingPayload(from, c.contract, method, args)
	sig, err := c.wallet.SignMessage(ctx, payload)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeWalletNotConnected) {
			return "", err
		}
		return "", dErrors.Wrap(err, dErrors.CodeTransactionRejected, "signature declined")
	}

	var result struct {
		Hash string `json:"hash"`
	}
	err = c.rpc(ctx, "registry_sendTransaction", txParams{
		From:      from.String(),
		Contract:  c.contract.String(),
		Method:    method,
		Args:      args,
		Signature: hex.EncodeToString(sig),
	}, &result)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeTransactionRejected, "node rejected transaction")
	}
	return domain.TxHash(result.Hash), nil
}

// signingPayload is the canonical byte string the wallet signs for a
// transaction. Field order is fixed; changing it invalidates signatures.
func signingPayload(from, contract domain.Address, method string, args []string) []byte {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "consentis-tx\nfrom:%s\ncontract:%s\nmethod:%s\n", from.Lower(), contract.Lower(), method)
	for _, a := range args {
		fmt.Fprintf(buf, "arg:%s\n", a)
	}
	return buf.Bytes()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const rpcCodeNotFound = -32004

func (c *RPCClient) rpc(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "chain rpc unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "read rpc response")
	}
	if resp.StatusCode != http.StatusOK {
		return dErrors.New(dErrors.CodeTransport, fmt.Sprintf("chain rpc status %d: %s", resp.StatusCode, string(raw)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "malformed rpc response")
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == rpcCodeNotFound {
			return dErrors.New(dErrors.CodeNotFound, rpcResp.Error.Message)
		}
		return dErrors.New(dErrors.CodeTransport, rpcResp.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return dErrors.Wrap(err, dErrors.CodeTransport, "malformed rpc result")
		}
	}
	return nil
}

var _ Registry = (*RPCClient)(nil)
