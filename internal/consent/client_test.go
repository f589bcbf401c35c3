package consent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"consentis/internal/chain"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

var (
	ownerAddr      = domain.MustAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	researcherAddr = domain.MustAddress("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
)

type ClientSuite struct {
	suite.Suite
	registry *chain.MemoryRegistry
	client   *Client
	ctx      context.Context
}

func (s *ClientSuite) SetupTest() {
	s.registry = chain.NewMemoryRegistry(ownerAddr)
	s.client = NewClient(s.registry)
	s.ctx = context.Background()
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) TestGrantLifecycle() {
	recordID := domain.NewRecordID()
	_, err := s.registry.RegisterRecord(s.ctx, recordID)
	require.NoError(s.T(), err)

	err = s.client.Grant(s.ctx, researcherAddr.String(), recordID)
	require.NoError(s.T(), err)

	tx := s.client.Status()
	assert.Equal(s.T(), TxConfirmed, tx.State)
	assert.Equal(s.T(), TxGrant, tx.Kind)
	assert.NotEmpty(s.T(), tx.Hash)

	result, err := s.client.CheckConsent(s.ctx, ownerAddr, researcherAddr, recordID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CheckGranted, result)
}

func (s *ClientSuite) TestRevokeClearsConsent() {
	recordID := domain.NewRecordID()
	_, err := s.registry.RegisterRecord(s.ctx, recordID)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.client.Grant(s.ctx, researcherAddr.String(), recordID))
	require.NoError(s.T(), s.client.Revoke(s.ctx, researcherAddr.String(), recordID))

	assert.Equal(s.T(), TxConfirmed, s.client.Status().State)

	result, err := s.client.CheckConsent(s.ctx, ownerAddr, researcherAddr, recordID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CheckNotGranted, result)
}

func (s *ClientSuite) TestInvalidAddressNeverReachesRegistry() {
	recordID := domain.NewRecordID()

	err := s.client.Grant(s.ctx, "not-an-address", recordID)
	assert.True(s.T(), dErrors.HasCode(err, dErrors.CodeInvalidAddress))

	err = s.client.Revoke(s.ctx, "not-an-address", recordID)
	assert.True(s.T(), dErrors.HasCode(err, dErrors.CodeInvalidAddress))

	// No transaction state was created for either attempt.
	assert.Equal(s.T(), TxIdle, s.client.Status().State)

	// And the registry never saw a write: the record stays unregistered,
	// the consent unset.
	result, err := s.client.CheckConsent(s.ctx, ownerAddr, researcherAddr, recordID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CheckNotGranted, result)
}

func (s *ClientSuite) TestFailedSubmitSurfacesReason() {
	recordID := domain.NewRecordID()
	s.registry.FailNextSubmit = true

	err := s.client.Grant(s.ctx, researcherAddr.String(), recordID)
	require.Error(s.T(), err)

	tx := s.client.Status()
	assert.Equal(s.T(), TxFailed, tx.State)
	assert.NotEmpty(s.T(), tx.Reason)
	assert.Empty(s.T(), tx.Hash)
}

func (s *ClientSuite) TestResetClearsTransactionOnly() {
	recordID := domain.NewRecordID()
	_, err := s.registry.RegisterRecord(s.ctx, recordID)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.client.Grant(s.ctx, researcherAddr.String(), recordID))

	s.client.Reset()
	assert.Equal(s.T(), TxIdle, s.client.Status().State)

	// Consent state lives on chain and is unaffected by Reset.
	result, err := s.client.CheckConsent(s.ctx, ownerAddr, researcherAddr, recordID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CheckGranted, result)
}

func (s *ClientSuite) TestCheckConsentDisabledWithMissingParams() {
	recordID := domain.NewRecordID()

	result, err := s.client.CheckConsent(s.ctx, "", researcherAddr, recordID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CheckUnknown, result)

	result, err = s.client.CheckConsent(s.ctx, ownerAddr, "", recordID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CheckUnknown, result)

	result, err = s.client.CheckConsent(s.ctx, ownerAddr, researcherAddr, "")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CheckUnknown, result)
}

func (s *ClientSuite) TestRegisterRecordConfirms() {
	recordID := domain.NewRecordID()

	hash, err := s.client.RegisterRecord(s.ctx, recordID)
	require.NoError(s.T(), err)
	assert.NotEmpty(s.T(), hash)

	// Registration does not grant anyone consent by itself.
	result, err := s.client.CheckConsent(s.ctx, ownerAddr, researcherAddr, recordID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), CheckNotGranted, result)
}
