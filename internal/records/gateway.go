package records

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

// Gateway fetches immutable ciphertext from the content-addressed store.
type Gateway struct {
	baseURL string
	http    *http.Client
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayHTTPClient overrides the HTTP client (tests).
func WithGatewayHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.http = c }
}

// NewGateway creates a gateway client. baseURL includes the path prefix,
// e.g. "https://gateway.example/ipfs".
func NewGateway(baseURL string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fetch retrieves raw ciphertext bytes by content address.
func (g *Gateway) Fetch(ctx context.Context, addr domain.ContentAddress) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/"+addr.String(), nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build gateway request")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "content gateway unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "read gateway response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("content %s not found", addr))
	case resp.StatusCode != http.StatusOK:
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = "failed to fetch file"
		}
		return nil, dErrors.New(dErrors.CodeTransport, fmt.Sprintf("gateway status %d: %s", resp.StatusCode, msg))
	}
	return body, nil
}
