package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"consentis/pkg/domain"
)

var (
	addrA = domain.MustAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	addrB = domain.MustAddress("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
)

type StoreSuite struct {
	suite.Suite
	storage *MemoryStorage
	store   *Store
	ctx     context.Context
}

func (s *StoreSuite) SetupTest() {
	s.storage = NewMemoryStorage()
	s.store = NewStore(s.storage)
	s.ctx = context.Background()
	require.NoError(s.T(), s.store.Hydrate(s.ctx))
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

// checkInvariant asserts IsAuthenticated ⇔ wallet and role both present.
func (s *StoreSuite) checkInvariant() {
	st := s.store.Snapshot()
	want := st.WalletAddress != "" && st.Role != ""
	assert.Equal(s.T(), want, st.IsAuthenticated, "invariant violated in state %+v", st)
}

func (s *StoreSuite) TestAddressAloneDoesNotAuthenticate() {
	s.store.SetWalletAddress(s.ctx, addrA)
	st := s.store.Snapshot()
	assert.Equal(s.T(), addrA, st.WalletAddress)
	assert.False(s.T(), st.IsAuthenticated)
	s.checkInvariant()
}

func (s *StoreSuite) TestRoleAloneDoesNotAuthenticate() {
	s.store.SetRole(s.ctx, domain.RolePatient)
	assert.False(s.T(), s.store.Snapshot().IsAuthenticated)
	s.checkInvariant()
}

func (s *StoreSuite) TestAddressThenRoleAuthenticates() {
	s.store.SetWalletAddress(s.ctx, addrA)
	s.store.SetRole(s.ctx, domain.RolePatient)
	assert.True(s.T(), s.store.Snapshot().IsAuthenticated)
	s.checkInvariant()
}

func (s *StoreSuite) TestEmptyRoleRevokesAuthentication() {
	s.store.SetUser(s.ctx, addrA, domain.RolePatient)
	s.store.SetRole(s.ctx, "")
	assert.False(s.T(), s.store.Snapshot().IsAuthenticated)
	s.checkInvariant()
}

func (s *StoreSuite) TestSetUserAtomic() {
	s.store.SetUser(s.ctx, addrA, domain.RoleResearcher)
	st := s.store.Snapshot()
	assert.True(s.T(), st.IsAuthenticated)
	assert.Equal(s.T(), domain.RoleResearcher, st.Role)
	s.checkInvariant()
}

func (s *StoreSuite) TestClearUserResetsEverything() {
	s.store.SetUser(s.ctx, addrA, domain.RoleResearcher)
	s.store.SetResearcherProfile(s.ctx, "prof-1")
	s.store.ClearUser(s.ctx)

	st := s.store.Snapshot()
	assert.Equal(s.T(), domain.Address(""), st.WalletAddress)
	assert.Equal(s.T(), domain.Role(""), st.Role)
	assert.False(s.T(), st.IsAuthenticated)
	assert.Empty(s.T(), st.ResearcherProfileID)
	assert.Equal(s.T(), ProfileStatusUnknown, st.ProfileStatus)
	assert.True(s.T(), st.Hydrated)
	s.checkInvariant()
}

// Exhaustive transition walk: apply every transition from every reachable
// state and check the invariant after each step.
func (s *StoreSuite) TestInvariantHoldsUnderAllTransitions() {
	transitions := []func(){
		func() { s.store.SetWalletAddress(s.ctx, addrA) },
		func() { s.store.SetWalletAddress(s.ctx, addrB) },
		func() { s.store.SetWalletAddress(s.ctx, "") },
		func() { s.store.SetRole(s.ctx, domain.RolePatient) },
		func() { s.store.SetRole(s.ctx, domain.RoleResearcher) },
		func() { s.store.SetRole(s.ctx, "") },
		func() { s.store.SetUser(s.ctx, addrA, domain.RoleResearcher) },
		func() { s.store.ClearUser(s.ctx) },
		func() { s.store.SetResearcherProfile(s.ctx, "prof-1") },
		func() { s.store.SetResearcherProfile(s.ctx, "") },
		func() { s.store.SetProfileStatus(s.ctx, ProfileStatusChecking) },
	}

	for _, first := range transitions {
		for _, second := range transitions {
			s.store.ClearUser(s.ctx)
			first()
			s.checkInvariant()
			second()
			s.checkInvariant()
		}
	}
}

func (s *StoreSuite) TestProfileTransitions() {
	s.store.SetUser(s.ctx, addrA, domain.RoleResearcher)

	s.store.SetProfileStatus(s.ctx, ProfileStatusChecking)
	assert.Equal(s.T(), ProfileStatusChecking, s.store.Snapshot().ProfileStatus)

	s.store.SetResearcherProfile(s.ctx, "prof-9")
	st := s.store.Snapshot()
	assert.Equal(s.T(), ProfileStatusComplete, st.ProfileStatus)
	assert.Equal(s.T(), "prof-9", st.ResearcherProfileID)

	s.store.SetResearcherProfile(s.ctx, "")
	st = s.store.Snapshot()
	assert.Equal(s.T(), ProfileStatusIncomplete, st.ProfileStatus)
	assert.Empty(s.T(), st.ResearcherProfileID)
}

func (s *StoreSuite) TestSubscribeSeesLatestState() {
	ch := s.store.Subscribe()
	s.store.SetWalletAddress(s.ctx, addrA)
	s.store.SetRole(s.ctx, domain.RolePatient)

	// Buffer size is one: the subscriber may miss intermediate snapshots but
	// always observes the latest.
	var last State
	for {
		select {
		case st := <-ch:
			last = st
			continue
		default:
		}
		break
	}
	assert.True(s.T(), last.IsAuthenticated)
}

func TestHydrationRestoresPersistedSubset(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	first := NewStore(storage)
	require.NoError(t, first.Hydrate(ctx))
	first.SetUser(ctx, addrA, domain.RoleResearcher)
	first.SetResearcherProfile(ctx, "prof-1")

	second := NewStore(storage)
	select {
	case <-second.Hydrated():
		t.Fatal("hydrated before Hydrate was called")
	default:
	}
	assert.False(t, second.Snapshot().Hydrated)

	require.NoError(t, second.Hydrate(ctx))
	<-second.Hydrated()

	st := second.Snapshot()
	assert.True(t, st.Hydrated)
	assert.Equal(t, addrA, st.WalletAddress)
	assert.Equal(t, domain.RoleResearcher, st.Role)
	assert.True(t, st.IsAuthenticated)
	// Profile state is not persisted; each process re-checks.
	assert.Equal(t, ProfileStatusUnknown, st.ProfileStatus)
	assert.Empty(t, st.ResearcherProfileID)
}

func TestHydrationSurvivesCorruptSlot(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	require.NoError(t, storage.Save(ctx, []byte("{not json")))

	store := NewStore(storage)
	require.NoError(t, store.Hydrate(ctx))

	st := store.Snapshot()
	assert.True(t, st.Hydrated)
	assert.False(t, st.IsAuthenticated)
}

func TestFileStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := NewFileStorage(t.TempDir(), StorageName)

	_, err := storage.Load(ctx)
	assert.Error(t, err)

	require.NoError(t, storage.Save(ctx, []byte(`{"walletAddress":""}`)))
	data, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"walletAddress":""}`, string(data))
}
