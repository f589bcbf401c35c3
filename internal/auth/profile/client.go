package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"consentis/internal/sentinel"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

// Profile is a researcher's off-chain profile.
type Profile struct {
	ID            string         `json:"id"`
	WalletAddress domain.Address `json:"wallet_address"`
	Name          string         `json:"name"`
	Institution   string         `json:"institution"`
	Email         string         `json:"email"`
}

// CreateRequest carries the fields for a new researcher profile.
type CreateRequest struct {
	WalletAddress domain.Address `json:"wallet_address"`
	Name          string         `json:"name" validate:"required,notblank"`
	Institution   string         `json:"institution" validate:"required,notblank"`
	Email         string         `json:"email" validate:"required,email"`
}

// Store queries the external profile store by address.
// Error Contract:
// - FindByAddress returns sentinel.ErrNotFound when no profile exists
type Store interface {
	FindByAddress(ctx context.Context, addr domain.Address) (*Profile, error)
	Create(ctx context.Context, req CreateRequest) (string, error)
}

// HTTPStore is the backend profile API adapter.
type HTTPStore struct {
	baseURL string
	http    *http.Client
}

// HTTPStoreOption configures an HTTPStore.
type HTTPStoreOption func(*HTTPStore)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) HTTPStoreOption {
	return func(s *HTTPStore) { s.http = c }
}

// NewHTTPStore creates a profile store client for the backend at baseURL.
func NewHTTPStore(baseURL string, opts ...HTTPStoreOption) *HTTPStore {
	s := &HTTPStore{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPStore) FindByAddress(ctx context.Context, addr domain.Address) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/users/researcher/"+addr.String(), nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build profile request")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "profile API unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "read profile response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, sentinel.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, dErrors.New(dErrors.CodeTransport, fmt.Sprintf("profile API status %d: %s", resp.StatusCode, string(raw)))
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "malformed profile response")
	}
	return &p, nil
}

func (s *HTTPStore) Create(ctx context.Context, createReq CreateRequest) (string, error) {
	body, err := json.Marshal(createReq)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "encode profile request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/users/researcher", bytes.NewReader(body))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "build profile request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeTransport, "profile API unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeTransport, "read profile response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", dErrors.New(dErrors.CodeTransport, fmt.Sprintf("profile API status %d: %s", resp.StatusCode, string(raw)))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeTransport, "malformed profile response")
	}
	return created.ID, nil
}

var _ Store = (*HTTPStore)(nil)
