// Package decrypt runs the fetch→authorize→decrypt pipeline for shared
// records. Authorization lives with the decryption network: this pipeline
// only assembles the request and reports what the network decided.
package decrypt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"consentis/internal/platform/metrics"
	"consentis/internal/platform/tracer"
	"consentis/internal/policy"
	"consentis/internal/records"
	"consentis/internal/threshold"
	"consentis/internal/wallet"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

// GenericFailureMessage replaces causes that carry no domain code. Domain
// errors are surfaced verbatim: the caller is a researcher and acts on the
// detail, unlike the upload side.
const GenericFailureMessage = "Decryption failed"

const defaultProofTTL = 24 * time.Hour

// Step is the externally observable pipeline position.
type Step string

const (
	StepIdle       Step = "idle"
	StepFetching   Step = "fetching"
	StepDecrypting Step = "decrypting"
	StepSuccess    Step = "success"
	StepError      Step = "error"
)

// Status is a snapshot of one pipeline's observable state.
type Status struct {
	Step     Step            `json:"step"`
	RecordID domain.RecordID `json:"record_id,omitempty"`
	FileName string          `json:"file_name,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// Fetcher retrieves ciphertext by content address from the storage gateway.
type Fetcher interface {
	Fetch(ctx context.Context, addr domain.ContentAddress) ([]byte, error)
}

// Decrypter yields a ready network connection for releasing plaintext.
type Decrypter interface {
	Get(ctx context.Context) (threshold.Network, error)
}

// Pipeline drives record decryption.
type Pipeline struct {
	wallet   wallet.Wallet
	gateway  Fetcher
	network  Decrypter
	proofTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   tracer.Tracer

	mu       sync.Mutex
	status   Status
	inFlight bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger instance for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the metrics instance for the pipeline.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer for the pipeline.
func WithTracer(t tracer.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithProofTTL bounds the lifetime of generated session proofs.
func WithProofTTL(ttl time.Duration) Option {
	return func(p *Pipeline) {
		if ttl > 0 {
			p.proofTTL = ttl
		}
	}
}

// NewPipeline wires the decrypt pipeline's collaborators.
func NewPipeline(w wallet.Wallet, gateway Fetcher, network Decrypter, opts ...Option) *Pipeline {
	p := &Pipeline{
		wallet:   w,
		gateway:  gateway,
		network:  network,
		proofTTL: defaultProofTTL,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   tracer.NewNoop(),
		status:   Status{Step: StepIdle},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decrypt fetches a record's ciphertext, obtains a wallet-signed session
// proof, and asks the network to release the plaintext. The result is the
// plaintext wrapped as a file named after the record.
//
// The returned error is always the original cause; Status carries the
// caller-facing rendering of it.
func (p *Pipeline) Decrypt(ctx context.Context, record records.Record) (file *records.DecryptedFile, err error) {
	if _, ok := p.wallet.Address(); !ok {
		return nil, dErrors.New(dErrors.CodeWalletNotConnected, "wallet not connected")
	}

	if err := p.begin(record.ID); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, tracer.SpanDecrypt,
		tracer.String(tracer.AttrRecordID, record.ID.String()),
		tracer.String(tracer.AttrContentAddress, record.StorageAddress.String()),
	)
	defer func() { span.End(err) }()

	ciphertext, err := p.fetch(ctx, record.StorageAddress)
	if err != nil {
		return nil, p.fail(record.ID, "fetch", err)
	}

	// Stored policy encoding varies; canonicalize before handing it to the
	// network so both sides evaluate the same condition list.
	conditions, err := policy.Canonicalize(record.AccessPolicy)
	if err != nil {
		return nil, p.fail(record.ID, "canonicalize policy", err)
	}

	plaintext, err := p.release(ctx, record, ciphertext, conditions)
	if err != nil {
		return nil, p.fail(record.ID, "decrypt", err)
	}

	p.setStatus(Status{Step: StepSuccess, RecordID: record.ID, FileName: record.Name})
	p.observe("success")
	p.logger.Info("decrypt complete", "record_id", record.ID, "name", record.Name)

	return &records.DecryptedFile{
		Name: record.Name,
		MIME: records.DefaultMIME,
		Data: plaintext,
	}, nil
}

func (p *Pipeline) fetch(ctx context.Context, addr domain.ContentAddress) (data []byte, err error) {
	ctx, span := p.tracer.Start(ctx, tracer.SpanFetch)
	defer func() { span.End(err) }()
	defer p.step("fetch")()

	return p.gateway.Fetch(ctx, addr)
}

func (p *Pipeline) release(ctx context.Context, record records.Record, ciphertext []byte, conditions []policy.AccessCondition) (plaintext []byte, err error) {
	p.setStep(StepDecrypting)
	ctx, span := p.tracer.Start(ctx, tracer.SpanNetDecrypt)
	defer func() { span.End(err) }()
	defer p.step("decrypt")()

	proof, err := threshold.SessionProof(ctx, p.wallet, record.ID.String(), p.proofTTL)
	if err != nil {
		return nil, err
	}

	net, err := p.network.Get(ctx)
	if err != nil {
		return nil, err
	}
	return net.Decrypt(ctx, threshold.DecryptRequest{
		Ciphertext: ciphertext,
		Digest:     record.CipherDigest,
		Conditions: conditions,
		Proof:      proof,
	})
}

// Status returns the current observable state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Reset clears a settled status back to Idle. No effect while a step is in
// flight.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		return
	}
	p.status = Status{Step: StepIdle}
}

func (p *Pipeline) begin(recordID domain.RecordID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		return dErrors.New(dErrors.CodeConflict, "a decrypt is already in progress")
	}
	p.inFlight = true
	p.status = Status{Step: StepFetching, RecordID: recordID}
	return nil
}

// fail settles the pipeline and returns the original error. Domain errors
// keep their message in the status; anything else is normalized.
func (p *Pipeline) fail(recordID domain.RecordID, step string, err error) error {
	p.logger.Error("decrypt failed", "record_id", recordID, "step", step, "error", err)

	message := GenericFailureMessage
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	p.setStatus(Status{Step: StepError, RecordID: recordID, Message: message})
	p.observe("error")
	return err
}

func (p *Pipeline) setStatus(status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	p.inFlight = status.Step != StepSuccess && status.Step != StepError
}

func (p *Pipeline) setStep(step Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Step = step
}

func (p *Pipeline) step(name string) func() {
	start := time.Now()
	return func() {
		if p.metrics != nil {
			p.metrics.PipelineStep.WithLabelValues("decrypt", name).Observe(time.Since(start).Seconds())
		}
	}
}

func (p *Pipeline) observe(outcome string) {
	if p.metrics != nil {
		p.metrics.DecryptsTotal.WithLabelValues(outcome).Inc()
	}
}
