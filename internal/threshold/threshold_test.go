package threshold

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentis/internal/chain"
	"consentis/internal/policy"
	"consentis/internal/wallet"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

var testContract = domain.MustAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")

func newConnectedWallet(t *testing.T) *wallet.LocalWallet {
	t.Helper()
	w, err := wallet.NewLocal()
	require.NoError(t, err)
	w.Connect()
	return w
}

func TestSessionProofClaims(t *testing.T) {
	w := newConnectedWallet(t)
	addr, _ := w.Address()

	proof, err := SessionProof(context.Background(), w, "", time.Hour)
	require.NoError(t, err)

	claims, err := ParseProofClaims(proof)
	require.NoError(t, err)
	assert.Equal(t, addr.String(), claims.Subject)
	assert.Equal(t, WildcardResource, claims.Resource)
	assert.Equal(t, "access-control-condition-decryption", claims.Ability)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestSessionProofRequiresWallet(t *testing.T) {
	w, err := wallet.NewLocal()
	require.NoError(t, err)

	_, err = SessionProof(context.Background(), w, "", 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeWalletNotConnected))
}

type countingConnector struct {
	mu         sync.Mutex
	connects   int
	lastCtxErr error
	network    Network
}

func (c *countingConnector) Connect(ctx context.Context) (Network, error) {
	c.mu.Lock()
	c.connects++
	c.lastCtxErr = ctx.Err()
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.network, nil
}

func TestManagerReusesHandle(t *testing.T) {
	registry := chain.NewMemoryRegistry(testContract)
	fake, err := NewFakeNetwork(registry)
	require.NoError(t, err)
	connector := &countingConnector{network: fake}
	mgr := NewManager(connector)

	ctx := context.Background()
	first, err := mgr.Get(ctx)
	require.NoError(t, err)
	second, err := mgr.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, connector.connects)
}

func TestManagerReconnectsAfterDisconnect(t *testing.T) {
	registry := chain.NewMemoryRegistry(testContract)
	fake, err := NewFakeNetwork(registry)
	require.NoError(t, err)
	connector := &countingConnector{network: fake}
	mgr := NewManager(connector)

	ctx := context.Background()
	_, err = mgr.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Disconnect(ctx))

	n, err := mgr.Get(ctx)
	require.NoError(t, err)
	assert.True(t, n.Ready())
	assert.Equal(t, 2, connector.connects)
}

func TestManagerConcurrentFirstUse(t *testing.T) {
	registry := chain.NewMemoryRegistry(testContract)
	fake, err := NewFakeNetwork(registry)
	require.NoError(t, err)
	connector := &countingConnector{network: fake}
	mgr := NewManager(connector)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Get(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, connector.connects)
}

func TestManagerConnectSurvivesCallerCancellation(t *testing.T) {
	registry := chain.NewMemoryRegistry(testContract)
	fake, err := NewFakeNetwork(registry)
	require.NoError(t, err)
	connector := &countingConnector{network: fake}
	mgr := NewManager(connector)

	// A canceled triggering caller must not poison the shared handshake for
	// the callers collapsed into the same flight.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := mgr.Get(ctx)
	require.NoError(t, err)
	assert.True(t, n.Ready())
	assert.NoError(t, connector.lastCtxErr)
}

func TestFakeNetworkRoundTrip(t *testing.T) {
	ctx := context.Background()
	patient := newConnectedWallet(t)
	researcher := newConnectedWallet(t)
	patientAddr, _ := patient.Address()
	researcherAddr, _ := researcher.Address()

	registry := chain.NewMemoryRegistry(patientAddr)
	fake, err := NewFakeNetwork(registry)
	require.NoError(t, err)

	builder := policy.NewBuilder(testContract, "sepolia")
	recordID := domain.NewRecordID()
	conditions := builder.Build(patientAddr, recordID)

	plaintext := []byte("blood work results")
	sealed, err := fake.Encrypt(ctx, plaintext, conditions)
	require.NoError(t, err)
	assert.Equal(t, PlaintextDigest(plaintext), sealed.Digest)
	assert.NotEqual(t, plaintext, sealed.Ciphertext)

	_, err = registry.RegisterRecord(ctx, recordID)
	require.NoError(t, err)

	// Without consent: denied.
	proof, err := SessionProof(ctx, researcher, "", 0)
	require.NoError(t, err)
	_, err = fake.Decrypt(ctx, DecryptRequest{
		Ciphertext: sealed.Ciphertext,
		Digest:     sealed.Digest,
		Conditions: conditions,
		Proof:      proof,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthorizationDenied))

	// Grant, then the same request succeeds byte-identically.
	_, err = registry.GrantConsent(ctx, researcherAddr, recordID)
	require.NoError(t, err)

	got, err := fake.Decrypt(ctx, DecryptRequest{
		Ciphertext: sealed.Ciphertext,
		Digest:     sealed.Digest,
		Conditions: conditions,
		Proof:      proof,
	})
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestFakeNetworkRejectsDivergentConditions(t *testing.T) {
	ctx := context.Background()
	patient := newConnectedWallet(t)
	patientAddr, _ := patient.Address()

	registry := chain.NewMemoryRegistry(patientAddr)
	fake, err := NewFakeNetwork(registry)
	require.NoError(t, err)

	builder := policy.NewBuilder(testContract, "sepolia")
	recordID := domain.NewRecordID()
	conditions := builder.Build(patientAddr, recordID)

	sealed, err := fake.Encrypt(ctx, []byte("data"), conditions)
	require.NoError(t, err)

	_, err = registry.RegisterRecord(ctx, recordID)
	require.NoError(t, err)
	_, err = registry.GrantConsent(ctx, patientAddr, recordID)
	require.NoError(t, err)

	// A policy built from different parameters must be denied even though
	// consent for the real record is granted.
	divergent := builder.Build(patientAddr, domain.NewRecordID())
	proof, err := SessionProof(ctx, patient, "", 0)
	require.NoError(t, err)

	_, err = fake.Decrypt(ctx, DecryptRequest{
		Ciphertext: sealed.Ciphertext,
		Digest:     sealed.Digest,
		Conditions: divergent,
		Proof:      proof,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthorizationDenied))
}

func TestHTTPNetworkDenialSurfacedVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ready":
			w.WriteHeader(http.StatusOK)
		case "/decrypt":
			http.Error(w, "not authorized: hasConsent returned false", http.StatusForbidden)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	n, err := NewHTTPConnector(srv.URL).Connect(ctx)
	require.NoError(t, err)
	assert.True(t, n.Ready())

	_, err = n.Decrypt(ctx, DecryptRequest{Digest: "d", Proof: "p"})
	require.True(t, dErrors.HasCode(err, dErrors.CodeAuthorizationDenied))
	assert.Contains(t, err.Error(), "hasConsent returned false")
}

func TestHTTPConnectorHandshakeFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPConnector(srv.URL).Connect(context.Background())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransport))
	assert.Equal(t, int32(1), calls.Load())
}
