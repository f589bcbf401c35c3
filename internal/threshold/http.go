package threshold

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/sha3"

	"consentis/internal/policy"
	dErrors "consentis/pkg/domain-errors"
)

// HTTPConnector dials a threshold network node over HTTP.
type HTTPConnector struct {
	baseURL string
	http    *http.Client
}

// HTTPOption configures the connector.
type HTTPOption func(*HTTPConnector)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPConnector) { h.http = c }
}

// NewHTTPConnector creates a connector for the node at baseURL.
func NewHTTPConnector(baseURL string, opts ...HTTPOption) *HTTPConnector {
	h := &HTTPConnector{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect performs the node handshake and returns a live handle.
func (h *HTTPConnector) Connect(ctx context.Context) (Network, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/ready", nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build handshake request")
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "threshold node unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.New(dErrors.CodeTransport, fmt.Sprintf("threshold node not ready: status %d", resp.StatusCode))
	}

	n := &httpNetwork{baseURL: h.baseURL, http: h.http}
	n.ready.Store(true)
	return n, nil
}

// httpNetwork is one connected node session.
type httpNetwork struct {
	baseURL string
	http    *http.Client
	ready   atomic.Bool
}

type encryptRequest struct {
	Data       string                   `json:"data"`
	Conditions []policy.AccessCondition `json:"accessControlConditions"`
}

type encryptResponse struct {
	Ciphertext string `json:"ciphertext"`
	Digest     string `json:"dataToEncryptHash"`
}

// Encrypt submits plaintext with its policy and returns the sealed blob plus
// the plaintext digest the policy was bound to. This is the only call where
// plaintext leaves process memory, and it goes to the network, never to the
// application backend.
func (n *httpNetwork) Encrypt(ctx context.Context, data []byte, conditions []policy.AccessCondition) (*EncryptResult, error) {
	var resp encryptResponse
	err := n.post(ctx, "/encrypt", encryptRequest{
		Data:       base64.StdEncoding.EncodeToString(data),
		Conditions: conditions,
	}, &resp)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(resp.Ciphertext)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "malformed ciphertext from network")
	}

	digest := resp.Digest
	if digest == "" {
		digest = PlaintextDigest(data)
	}
	return &EncryptResult{Ciphertext: ciphertext, Digest: digest}, nil
}

type decryptRequest struct {
	Ciphertext string                   `json:"ciphertext"`
	Digest     string                   `json:"dataToEncryptHash"`
	Conditions []policy.AccessCondition `json:"accessControlConditions"`
	Proof      string                   `json:"sessionProof"`
}

type decryptResponse struct {
	Data string `json:"data"`
}

func (n *httpNetwork) Decrypt(ctx context.Context, req DecryptRequest) ([]byte, error) {
	var resp decryptResponse
	err := n.post(ctx, "/decrypt", decryptRequest{
		Ciphertext: base64.StdEncoding.EncodeToString(req.Ciphertext),
		Digest:     req.Digest,
		Conditions: req.Conditions,
		Proof:      req.Proof,
	}, &resp)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "malformed plaintext from network")
	}
	return data, nil
}

func (n *httpNetwork) Ready() bool { return n.ready.Load() }

func (n *httpNetwork) Disconnect(_ context.Context) error {
	n.ready.Store(false)
	return nil
}

func (n *httpNetwork) post(ctx context.Context, path string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode network request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build network request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		n.ready.Store(false)
		return dErrors.Wrap(err, dErrors.CodeTransport, "threshold network call failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "read network response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The network's denial message is surfaced verbatim: the caller is
		// expected to diagnose authorization failures.
		return dErrors.New(dErrors.CodeAuthorizationDenied, string(raw))
	case resp.StatusCode != http.StatusOK:
		return dErrors.New(dErrors.CodeTransport, fmt.Sprintf("network status %d: %s", resp.StatusCode, string(raw)))
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "malformed network response")
	}
	return nil
}

// PlaintextDigest is the Keccak-256 hex digest the policy binds to.
func PlaintextDigest(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

var (
	_ Connector = (*HTTPConnector)(nil)
	_ Network   = (*httpNetwork)(nil)
)
