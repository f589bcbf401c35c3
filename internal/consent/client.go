// Package consent issues grant/revoke transactions against the consent
// registry and tracks their confirmation lifecycle. Consent truth lives on
// chain; this client never caches it authoritatively.
package consent

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"consentis/internal/chain"
	"consentis/internal/platform/metrics"
	"consentis/internal/platform/tracer"
	"consentis/pkg/domain"
)

const defaultConfirmations = 1

// Client drives consent-registry writes and reads.
type Client struct {
	registry      chain.Registry
	confirmations int
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        tracer.Tracer

	mu sync.Mutex
	tx Transaction
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger instance for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the metrics instance for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer sets the tracer for the client.
func WithTracer(t tracer.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithConfirmations sets how many confirmations settle a transaction.
func WithConfirmations(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.confirmations = n
		}
	}
}

// NewClient creates a consent client over the given registry binding.
func NewClient(registry chain.Registry, opts ...Option) *Client {
	c := &Client{
		registry:      registry,
		confirmations: defaultConfirmations,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:        tracer.NewNoop(),
		tx:            Transaction{State: TxIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Grant submits one consent-grant transaction and tracks it to confirmation.
// The researcher address is validated pre-flight; a malformed address means
// the registry is never called.
func (c *Client) Grant(ctx context.Context, researcher string, recordID domain.RecordID) error {
	return c.write(ctx, TxGrant, researcher, recordID)
}

// Revoke submits one consent-revoke transaction and tracks it to confirmation.
func (c *Client) Revoke(ctx context.Context, researcher string, recordID domain.RecordID) error {
	return c.write(ctx, TxRevoke, researcher, recordID)
}

func (c *Client) write(ctx context.Context, kind TxKind, researcher string, recordID domain.RecordID) error {
	addr, err := domain.ParseAddress(researcher)
	if err != nil {
		// Pre-flight validation failure: no transaction state is created,
		// the UI disables invocation on the same check.
		return err
	}

	spanName := tracer.SpanConsentGrant
	if kind == TxRevoke {
		spanName = tracer.SpanConsentRevoke
	}
	ctx, span := c.tracer.Start(ctx, spanName,
		tracer.String(tracer.AttrResearcher, addr.String()),
		tracer.String(tracer.AttrRecordID, recordID.String()),
	)

	c.setTx(Transaction{Kind: kind, Researcher: addr, RecordID: recordID, State: TxPending})

	submit := c.registry.GrantConsent
	if kind == TxRevoke {
		submit = c.registry.RevokeConsent
	}

	hash, err := submit(ctx, addr, recordID)
	if err != nil {
		c.fail(kind, addr, recordID, "", err)
		span.End(err)
		return err
	}

	span.SetAttributes(tracer.String(tracer.AttrTxHash, hash.String()))
	c.setTx(Transaction{Kind: kind, Researcher: addr, RecordID: recordID, Hash: hash, State: TxConfirming})

	start := time.Now()
	if err := c.registry.WaitConfirmed(ctx, hash, c.confirmations); err != nil {
		c.fail(kind, addr, recordID, hash, err)
		span.End(err)
		return err
	}

	c.setTx(Transaction{Kind: kind, Researcher: addr, RecordID: recordID, Hash: hash, State: TxConfirmed})
	c.logger.Info("consent transaction confirmed",
		"kind", kind, "tx_hash", hash, "record_id", recordID, "researcher", addr)
	if c.metrics != nil {
		c.metrics.TxConfirmLatency.Observe(time.Since(start).Seconds())
		switch kind {
		case TxGrant:
			c.metrics.ConsentsGranted.Inc()
		case TxRevoke:
			c.metrics.ConsentsRevoked.Inc()
		}
	}
	span.End(nil)
	return nil
}

// RegisterRecord submits the record registration transaction and waits for
// confirmation. Used by the upload pipeline; it shares the registry binding
// but not the observable grant/revoke transaction slot.
func (c *Client) RegisterRecord(ctx context.Context, recordID domain.RecordID) (domain.TxHash, error) {
	hash, err := c.registry.RegisterRecord(ctx, recordID)
	if err != nil {
		return "", err
	}
	start := time.Now()
	if err := c.registry.WaitConfirmed(ctx, hash, c.confirmations); err != nil {
		return hash, err
	}
	if c.metrics != nil {
		c.metrics.TxConfirmLatency.Observe(time.Since(start).Seconds())
		c.metrics.RecordsRegistered.Inc()
	}
	return hash, nil
}

// CheckConsent queries the predicate read-only. The query is disabled unless
// all three parameters are present: callers get CheckUnknown, not an error.
func (c *Client) CheckConsent(ctx context.Context, owner, researcher domain.Address, recordID domain.RecordID) (CheckResult, error) {
	if owner == "" || researcher == "" || recordID == "" {
		return CheckUnknown, nil
	}
	granted, err := c.registry.HasConsent(ctx, owner, researcher, recordID)
	if err != nil {
		return CheckUnknown, err
	}
	if granted {
		return CheckGranted, nil
	}
	return CheckNotGranted, nil
}

// Status returns the current transaction snapshot.
func (c *Client) Status() Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx
}

// Reset clears transaction state without affecting consent state itself.
// Calling it while a write is in flight does not abort the write; the
// in-flight call will overwrite the slot when it settles.
func (c *Client) Reset() {
	c.setTx(Transaction{State: TxIdle})
}

func (c *Client) setTx(tx Transaction) {
	c.mu.Lock()
	c.tx = tx
	c.mu.Unlock()
}

func (c *Client) fail(kind TxKind, researcher domain.Address, recordID domain.RecordID, hash domain.TxHash, err error) {
	c.logger.Error("consent transaction failed",
		"kind", kind, "record_id", recordID, "researcher", researcher, "error", err)
	c.setTx(Transaction{
		Kind:       kind,
		Researcher: researcher,
		RecordID:   recordID,
		Hash:       hash,
		State:      TxFailed,
		Reason:     err.Error(),
	})
}
