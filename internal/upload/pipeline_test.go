package upload

//go:generate mockgen -source=pipeline.go -destination=mocks/mocks.go -package=mocks Encrypter,Store,Registrar

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"consentis/internal/chain"
	"consentis/internal/platform/tracer"
	"consentis/internal/policy"
	"consentis/internal/records"
	"consentis/internal/threshold"
	"consentis/internal/upload/mocks"
	"consentis/internal/wallet"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

var contractAddr = domain.MustAddress("0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0")

type PipelineSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	wallet    *wallet.LocalWallet
	network   *mocks.MockEncrypter
	store     *mocks.MockStore
	registrar *mocks.MockRegistrar
	fake      *threshold.FakeNetwork
	pipeline  *Pipeline
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())

	w, err := wallet.NewLocal()
	s.Require().NoError(err)
	w.Connect()
	s.wallet = w

	owner, _ := w.Address()
	fake, err := threshold.NewFakeNetwork(chain.NewMemoryRegistry(owner))
	s.Require().NoError(err)
	s.fake = fake

	s.network = mocks.NewMockEncrypter(s.ctrl)
	s.store = mocks.NewMockStore(s.ctrl)
	s.registrar = mocks.NewMockRegistrar(s.ctrl)

	s.pipeline = NewPipeline(
		s.wallet,
		policy.NewBuilder(contractAddr, "sepolia"),
		s.network,
		s.store,
		s.registrar,
	)
}

func (s *PipelineSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *PipelineSuite) TestUploadHappyPath() {
	owner, _ := s.wallet.Address()
	plaintext := []byte("blood work results")

	s.network.EXPECT().Get(gomock.Any()).Return(s.fake, nil)

	var created records.CreateRequest
	s.store.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req records.CreateRequest) (*records.CreateResult, error) {
			created = req
			return &records.CreateResult{Message: "stored", ContentAddress: "bafy-test-cid"}, nil
		})
	s.registrar.EXPECT().
		RegisterRecord(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id domain.RecordID) (domain.TxHash, error) {
			s.Equal(created.RecordID, id, "the registered id must be the persisted id")
			return "0xtx1", nil
		})

	addr, err := s.pipeline.Upload(s.ctx, "Blood Work.pdf", plaintext)
	s.Require().NoError(err)
	s.Equal(domain.ContentAddress("bafy-test-cid"), addr)

	// Persisted payload: ciphertext only, correct metadata, canonical policy.
	s.Equal("Blood Work.pdf", created.Name)
	s.Equal(owner, created.OwnerAddress)
	s.NotEmpty(created.CipherDigest)
	s.NotEqual(plaintext, created.Ciphertext)
	s.NotContains(string(created.Ciphertext), "blood work")

	conditions, err := policy.Canonicalize(created.AccessPolicy)
	s.Require().NoError(err)
	s.Require().Len(conditions, 1)
	s.Equal([]string{owner.String(), policy.CallerPlaceholder, created.RecordID.String()}, conditions[0].Parameters)

	st := s.pipeline.Status()
	s.Equal(StepSuccess, st.Step)
	s.Equal(addr, st.ContentAddress)
	s.Empty(st.Message)
}

func (s *PipelineSuite) TestUploadRequiresConnectedWallet() {
	s.Require().NoError(s.wallet.Disconnect(s.ctx))

	_, err := s.pipeline.Upload(s.ctx, "scan.png", []byte("data"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeWalletNotConnected))
	s.Equal(StepIdle, s.pipeline.Status().Step, "fail-fast must not start the pipeline")
}

func (s *PipelineSuite) TestEncryptFailureSettlesWithGenericMessage() {
	s.network.EXPECT().Get(gomock.Any()).Return(nil, dErrors.New(dErrors.CodeTransport, "node handshake refused"))

	_, err := s.pipeline.Upload(s.ctx, "scan.png", []byte("data"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTransport), "caller keeps the domain code")

	st := s.pipeline.Status()
	s.Equal(StepError, st.Step)
	s.Equal(FailureMessage, st.Message)
	s.NotContains(st.Message, "handshake", "cause must not leak into the user-facing status")
}

func (s *PipelineSuite) TestPersistFailureSkipsRegistration() {
	s.network.EXPECT().Get(gomock.Any()).Return(s.fake, nil)
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, errors.New("backend unavailable"))
	// No RegisterRecord expectation: a failed persist must abort the chain write.

	_, err := s.pipeline.Upload(s.ctx, "scan.png", []byte("data"))
	s.Require().Error(err)
	s.Equal(StepError, s.pipeline.Status().Step)
}

func (s *PipelineSuite) TestRegisterFailureSettlesError() {
	s.network.EXPECT().Get(gomock.Any()).Return(s.fake, nil)
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(&records.CreateResult{ContentAddress: "bafy-test-cid"}, nil)
	s.registrar.EXPECT().RegisterRecord(gomock.Any(), gomock.Any()).
		Return(domain.TxHash(""), dErrors.New(dErrors.CodeTransactionRejected, "signature declined"))

	_, err := s.pipeline.Upload(s.ctx, "scan.png", []byte("data"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeTransactionRejected))

	st := s.pipeline.Status()
	s.Equal(StepError, st.Step)
	s.Equal(FailureMessage, st.Message)
}

func (s *PipelineSuite) TestRetryAllocatesFreshRecordID() {
	s.network.EXPECT().Get(gomock.Any()).Return(s.fake, nil).Times(2)
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, errors.New("backend unavailable"))

	_, err := s.pipeline.Upload(s.ctx, "scan.png", []byte("data"))
	s.Require().Error(err)
	first := s.pipeline.Status().RecordID

	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(&records.CreateResult{ContentAddress: "bafy-test-cid"}, nil)
	s.registrar.EXPECT().RegisterRecord(gomock.Any(), gomock.Any()).Return(domain.TxHash("0xtx2"), nil)

	_, err = s.pipeline.Upload(s.ctx, "scan.png", []byte("data"))
	s.Require().NoError(err)
	s.NotEqual(first, s.pipeline.Status().RecordID)
}

func (s *PipelineSuite) TestResetClearsSettledStatusOnly() {
	s.network.EXPECT().Get(gomock.Any()).Return(nil, errors.New("down"))

	_, err := s.pipeline.Upload(s.ctx, "scan.png", []byte("data"))
	s.Require().Error(err)
	s.Equal(StepError, s.pipeline.Status().Step)

	s.pipeline.Reset()
	s.Equal(Status{Step: StepIdle}, s.pipeline.Status())
}

func (s *PipelineSuite) TestSpansRecordStepFailure() {
	rec := &recordingTracer{}
	p := NewPipeline(s.wallet, policy.NewBuilder(contractAddr, "sepolia"),
		s.network, s.store, s.registrar, WithTracer(rec))

	cause := dErrors.New(dErrors.CodeTransport, "backend unavailable")
	s.network.EXPECT().Get(gomock.Any()).Return(s.fake, nil)
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, cause)

	_, err := p.Upload(s.ctx, "scan.png", []byte("data"))
	s.Require().Error(err)

	for _, name := range []string{tracer.SpanUpload, tracer.SpanEncrypt, tracer.SpanPersist} {
		sp := rec.span(name)
		s.Require().NotNil(sp, name)
		s.True(sp.ended, name)
	}
	s.ErrorIs(rec.span(tracer.SpanPersist).err, cause, "the failing step's span carries the cause")
	s.ErrorIs(rec.span(tracer.SpanUpload).err, cause, "the pipeline span carries the cause")
	s.NoError(rec.span(tracer.SpanEncrypt).err, "a completed step ends clean")
}

func (s *PipelineSuite) TestSpansEndCleanOnSuccess() {
	rec := &recordingTracer{}
	p := NewPipeline(s.wallet, policy.NewBuilder(contractAddr, "sepolia"),
		s.network, s.store, s.registrar, WithTracer(rec))

	s.network.EXPECT().Get(gomock.Any()).Return(s.fake, nil)
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(&records.CreateResult{ContentAddress: "bafy-test-cid"}, nil)
	s.registrar.EXPECT().RegisterRecord(gomock.Any(), gomock.Any()).Return(domain.TxHash("0xtx1"), nil)

	_, err := p.Upload(s.ctx, "scan.png", []byte("data"))
	s.Require().NoError(err)

	for _, name := range []string{tracer.SpanUpload, tracer.SpanEncrypt, tracer.SpanPersist, tracer.SpanRegister} {
		sp := rec.span(name)
		s.Require().NotNil(sp, name)
		s.True(sp.ended, name)
		s.NoError(sp.err, name)
	}
}

type recordedSpan struct {
	name  string
	err   error
	ended bool
}

func (r *recordedSpan) End(err error)                            { r.ended, r.err = true, err }
func (r *recordedSpan) SetAttributes(_ ...tracer.Attribute)      {}
func (r *recordedSpan) AddEvent(_ string, _ ...tracer.Attribute) {}

type recordingTracer struct {
	spans []*recordedSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, _ ...tracer.Attribute) (context.Context, tracer.Span) {
	r := &recordedSpan{name: name}
	t.spans = append(t.spans, r)
	return ctx, r
}

func (t *recordingTracer) span(name string) *recordedSpan {
	for _, r := range t.spans {
		if r.name == name {
			return r
		}
	}
	return nil
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}
