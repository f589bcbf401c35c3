// Package upload runs the client-side encrypt→persist→register pipeline.
// Plaintext enters here and leaves only as ciphertext: the backing store
// never sees unencrypted bytes.
package upload

import (
	"context"
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

// FailureMessage is the only failure text exposed to patients. The specific
// cause goes to the log, never to the status.
const FailureMessage = "Upload failed. Please try again."

// Step is the externally observable pipeline position.
type Step string

const (
	StepIdle        Step = "idle"
	StepEncrypting  Step = "encrypting"
	StepUploading   Step = "uploading"
	StepRegistering Step = "registering"
	StepSuccess     Step = "success"
	StepError       Step = "error"
)

// Status is a snapshot of one pipeline's observable state.
type Status struct {
	Step           Step                  `json:"step"`
	RecordID       domain.RecordID       `json:"record_id,omitempty"`
	ContentAddress domain.ContentAddress `json:"content_address,omitempty"`
	Message        string                `json:"message,omitempty"`
}

// Encrypter yields a ready network connection for sealing plaintext.
type Encrypter interface {
	Get(ctx context.Context) (threshold.Network, error)
}

// Store persists ciphertext plus metadata and returns the content address.
type Store interface {
	Create(ctx context.Context, req records.CreateRequest) (*records.CreateResult, error)
}

// Registrar registers the record on the consent registry and waits for
// confirmation.
type Registrar interface {
	RegisterRecord(ctx context.Context, id domain.RecordID) (domain.TxHash, error)
}

// Pipeline drives uploads. One upload runs at a time per pipeline; each
// invocation allocates a fresh record id, so a retry never collides with a
// partially failed prior attempt.
type Pipeline struct {
	wallet    wallet.Wallet
	policies  *policy.Builder
	network   Encrypter
	store     Store
	registrar Registrar
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    tracer.Tracer

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

// NewPipeline wires the upload pipeline's collaborators.
func NewPipeline(w wallet.Wallet, policies *policy.Builder, network Encrypter, store Store, registrar Registrar, opts ...Option) *Pipeline {
	p := &Pipeline{
		wallet:    w,
		policies:  policies,
		network:   network,
		store:     store,
		registrar: registrar,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:    tracer.NewNoop(),
		status:    Status{Step: StepIdle},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Upload encrypts a file under the owner-consent policy, persists the
// ciphertext, and registers the record on chain. Returns the content address
// on success.
//
// Ordering: storage before registration. A persisted-but-unregistered record
// is unreachable (the consent predicate cannot pass for a record the chain
// has never seen), while the reverse order would leave a registered record
// with no ciphertext behind it.
func (p *Pipeline) Upload(ctx context.Context, name string, data []byte) (addr domain.ContentAddress, err error) {
	owner, ok := p.wallet.Address()
	if !ok {
		return "", dErrors.New(dErrors.CodeWalletNotConnected, "wallet not connected")
	}

	recordID, err := p.begin()
	if err != nil {
		return "", err
	}

	ctx, span := p.tracer.Start(ctx, tracer.SpanUpload,
		tracer.String(tracer.AttrRecordID, recordID.String()),
		tracer.String(tracer.AttrOwner, owner.String()),
	)
	defer func() { span.End(err) }()

	conditions := p.policies.Build(owner, recordID)

	sealed, err := p.encrypt(ctx, data, conditions)
	if err != nil {
		return "", p.fail(recordID, "encrypt", err)
	}

	policyJSON, err := policy.Encode(conditions)
	if err != nil {
		return "", p.fail(recordID, "encode policy", err)
	}

	addr, err = p.persist(ctx, records.CreateRequest{
		RecordID:     recordID,
		Name:         name,
		OwnerAddress: owner,
		CipherDigest: sealed.Digest,
		AccessPolicy: policyJSON,
		Ciphertext:   sealed.Ciphertext,
	})
	if err != nil {
		return "", p.fail(recordID, "persist", err)
	}

	if err := p.register(ctx, recordID); err != nil {
		return "", p.fail(recordID, "register", err)
	}

	p.setStatus(Status{Step: StepSuccess, RecordID: recordID, ContentAddress: addr})
	p.observe("success")
	span.SetAttributes(tracer.String(tracer.AttrContentAddress, addr.String()))
	p.logger.Info("upload complete", "record_id", recordID, "content_address", addr)
	return addr, nil
}

func (p *Pipeline) encrypt(ctx context.Context, data []byte, conditions []policy.AccessCondition) (result *threshold.EncryptResult, err error) {
	ctx, span := p.tracer.Start(ctx, tracer.SpanEncrypt)
	defer func() { span.End(err) }()
	defer p.step("encrypt")()

	net, err := p.network.Get(ctx)
	if err != nil {
		return nil, err
	}
	return net.Encrypt(ctx, data, conditions)
}

func (p *Pipeline) persist(ctx context.Context, req records.CreateRequest) (addr domain.ContentAddress, err error) {
	p.setStep(StepUploading)
	ctx, span := p.tracer.Start(ctx, tracer.SpanPersist)
	defer func() { span.End(err) }()
	defer p.step("persist")()

	result, err := p.store.Create(ctx, req)
	if err != nil {
		return "", err
	}
	return result.ContentAddress, nil
}

func (p *Pipeline) register(ctx context.Context, recordID domain.RecordID) (err error) {
	p.setStep(StepRegistering)
	ctx, span := p.tracer.Start(ctx, tracer.SpanRegister)
	defer func() { span.End(err) }()
	defer p.step("register")()

	hash, err := p.registrar.RegisterRecord(ctx, recordID)
	if err != nil {
		return err
	}
	span.SetAttributes(tracer.String(tracer.AttrTxHash, hash.String()))
	return nil
}

// Status returns the current observable state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Reset clears a settled status back to Idle. It has no effect while a step
// is in flight: it never aborts issued network calls.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		return
	}
	p.status = Status{Step: StepIdle}
}

func (p *Pipeline) begin() (domain.RecordID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		return "", dErrors.New(dErrors.CodeConflict, "an upload is already in progress")
	}

	recordID := domain.NewRecordID()
	p.inFlight = true
	p.status = Status{Step: StepEncrypting, RecordID: recordID}
	return recordID, nil
}

// fail settles the pipeline with the generic user-facing message and logs
// the actual cause. The underlying error is returned untouched so callers
// keep its domain code.
func (p *Pipeline) fail(recordID domain.RecordID, step string, err error) error {
	p.logger.Error("upload failed", "record_id", recordID, "step", step, "error", err)
	p.setStatus(Status{Step: StepError, RecordID: recordID, Message: FailureMessage})
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
			p.metrics.PipelineStep.WithLabelValues("upload", name).Observe(time.Since(start).Seconds())
		}
	}
}

func (p *Pipeline) observe(outcome string) {
	if p.metrics != nil {
		p.metrics.UploadsTotal.WithLabelValues(outcome).Inc()
	}
}
