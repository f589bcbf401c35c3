// Package records talks to the backend record API and the content gateway.
// Both are external collaborators; only their request/response contracts
// matter here.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

// Client is the backend record API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// NewClient creates a record API client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRequest is the multipart payload for record creation. Ciphertext
// only: plaintext never reaches the backend.
type CreateRequest struct {
	RecordID     domain.RecordID
	Name         string
	OwnerAddress domain.Address
	CipherDigest string
	AccessPolicy []byte // JSON-encoded condition list
	Ciphertext   []byte
}

// Create persists ciphertext plus metadata and returns the content address.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	fields := map[string]string{
		"record_id":            req.RecordID.String(),
		"name":                 req.Name,
		"patient_address":      req.OwnerAddress.String(),
		"data_to_encrypt_hash": req.CipherDigest,
		"acc_json":             string(req.AccessPolicy),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build multipart request")
		}
	}
	fw, err := mw.CreateFormFile("file", "encrypted-record.bin")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build multipart request")
	}
	if _, err := fw.Write(req.Ciphertext); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build multipart request")
	}
	if err := mw.Close(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build multipart request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/records", body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build create request")
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var result CreateResult
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PatientRecords lists records owned by a patient.
func (c *Client) PatientRecords(ctx context.Context, owner domain.Address) ([]Record, error) {
	var out []Record
	if err := c.get(ctx, "/api/v1/records/patient/"+owner.String(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResearcherRecords lists records visible to a researcher, with the derived
// consent status attached by the backend.
func (c *Client) ResearcherRecords(ctx context.Context, researcher domain.Address) ([]ResearcherRecord, error) {
	var out []ResearcherRecord
	if err := c.get(ctx, "/api/v1/records/researcher/"+researcher.String(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches a single record by id.
func (c *Client) Get(ctx context.Context, id domain.RecordID) (*Record, error) {
	var out Record
	if err := c.get(ctx, "/api/v1/records/"+id.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AllVisible fetches a user's owned and shared views concurrently.
// Used by actors holding both roles over time; either list may be empty.
func (c *Client) AllVisible(ctx context.Context, addr domain.Address) (owned []Record, shared []ResearcherRecord, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		owned, err = c.PatientRecords(ctx, addr)
		return err
	})
	g.Go(func() error {
		var err error
		shared, err = c.ResearcherRecords(ctx, addr)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return owned, shared, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	return c.do(req, result)
}

// do executes the request and decodes the response. Non-2xx responses
// surface the response body text as the error message.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "record API unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "read record API response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(bytes.TrimSpace(raw))
		if msg == "" {
			msg = "request failed"
		}
		if resp.StatusCode == http.StatusNotFound {
			return dErrors.New(dErrors.CodeNotFound, msg)
		}
		return dErrors.New(dErrors.CodeTransport, fmt.Sprintf("status %d: %s", resp.StatusCode, msg))
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "malformed record API response")
	}
	return nil
}
