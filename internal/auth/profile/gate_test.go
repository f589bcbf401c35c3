package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"consentis/internal/sentinel"
	"consentis/internal/session"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

type countingStore struct {
	finds      int
	creates    int
	profile    *Profile
	findErr    error
	createID   string
	lastCreate CreateRequest
}

func (s *countingStore) FindByAddress(_ context.Context, _ domain.Address) (*Profile, error) {
	s.finds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.profile == nil {
		return nil, sentinel.ErrNotFound
	}
	return s.profile, nil
}

func (s *countingStore) Create(_ context.Context, req CreateRequest) (string, error) {
	s.creates++
	s.lastCreate = req
	return s.createID, nil
}

type GateTestSuite struct {
	suite.Suite
	ctx      context.Context
	addr     domain.Address
	store    *countingStore
	sessions *session.Store
	gate     *Gate
}

func (s *GateTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.addr = domain.MustAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	s.store = &countingStore{createID: "prof-1"}
	s.sessions = session.NewStore(session.NewMemoryStorage())
	s.Require().NoError(s.sessions.Hydrate(s.ctx))
	s.gate = NewGate(s.store, s.sessions)
}

func (s *GateTestSuite) TestCheckWithoutAddressIsNoop() {
	s.Require().NoError(s.gate.Check(s.ctx))
	s.Zero(s.store.finds)
	s.Equal(session.ProfileStatusUnknown, s.sessions.Snapshot().ProfileStatus)
}

func (s *GateTestSuite) TestCheckProfileFound() {
	s.store.profile = &Profile{ID: "prof-42", WalletAddress: s.addr}
	s.sessions.SetWalletAddress(s.ctx, s.addr)

	s.Require().NoError(s.gate.Check(s.ctx))

	st := s.sessions.Snapshot()
	s.Equal(session.ProfileStatusComplete, st.ProfileStatus)
	s.Equal("prof-42", st.ResearcherProfileID)
	s.Equal(1, s.store.finds)
}

func (s *GateTestSuite) TestCheckProfileMissing() {
	s.sessions.SetWalletAddress(s.ctx, s.addr)

	s.Require().NoError(s.gate.Check(s.ctx))

	st := s.sessions.Snapshot()
	s.Equal(session.ProfileStatusIncomplete, st.ProfileStatus)
	s.Empty(st.ResearcherProfileID)
}

func (s *GateTestSuite) TestCheckRunsAtMostOneLookup() {
	s.store.profile = &Profile{ID: "prof-42", WalletAddress: s.addr}
	s.sessions.SetWalletAddress(s.ctx, s.addr)

	for range 3 {
		s.Require().NoError(s.gate.Check(s.ctx))
	}
	s.Equal(1, s.store.finds, "settled status must not re-trigger lookups")
}

func (s *GateTestSuite) TestCheckFailureReturnsToUnknown() {
	s.store.findErr = errors.New("backend down")
	s.sessions.SetWalletAddress(s.ctx, s.addr)

	s.Require().Error(s.gate.Check(s.ctx))
	s.Equal(session.ProfileStatusUnknown, s.sessions.Snapshot().ProfileStatus)

	// Recovery: the next check retries and settles.
	s.store.findErr = nil
	s.Require().NoError(s.gate.Check(s.ctx))
	s.Equal(session.ProfileStatusIncomplete, s.sessions.Snapshot().ProfileStatus)
	s.Equal(2, s.store.finds)
}

func (s *GateTestSuite) TestCreateRequiresWallet() {
	_, err := s.gate.Create(s.ctx, CreateRequest{Name: "Ada", Institution: "MIT", Email: "ada@example.org"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeWalletNotConnected))
	s.Zero(s.store.creates)
}

func (s *GateTestSuite) TestCreateValidatesFields() {
	s.sessions.SetWalletAddress(s.ctx, s.addr)

	_, err := s.gate.Create(s.ctx, CreateRequest{Name: "  ", Institution: "MIT", Email: "ada@example.org"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.gate.Create(s.ctx, CreateRequest{Name: "Ada", Institution: "MIT", Email: "not-an-email"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Zero(s.store.creates)
}

func (s *GateTestSuite) TestCreateTrimsFields() {
	s.sessions.SetWalletAddress(s.ctx, s.addr)

	_, err := s.gate.Create(s.ctx, CreateRequest{Name: "  Ada ", Institution: " MIT ", Email: " ada@example.org "})
	s.Require().NoError(err)
	s.Equal("Ada", s.store.lastCreate.Name)
	s.Equal("MIT", s.store.lastCreate.Institution)
	s.Equal("ada@example.org", s.store.lastCreate.Email)
}

func (s *GateTestSuite) TestCreateCompletesProfile() {
	s.sessions.SetWalletAddress(s.ctx, s.addr)
	s.sessions.SetResearcherProfile(s.ctx, "")
	s.Require().Equal(session.ProfileStatusIncomplete, s.sessions.Snapshot().ProfileStatus)

	id, err := s.gate.Create(s.ctx, CreateRequest{Name: "Ada", Institution: "MIT", Email: "ada@example.org"})
	s.Require().NoError(err)
	s.Equal("prof-1", id)

	st := s.sessions.Snapshot()
	s.Equal(session.ProfileStatusComplete, st.ProfileStatus)
	s.Equal("prof-1", st.ResearcherProfileID)
}

func TestGateTestSuite(t *testing.T) {
	suite.Run(t, new(GateTestSuite))
}
