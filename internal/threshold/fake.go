package threshold

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"consentis/contracts/registry"
	"consentis/internal/chain"
	"consentis/internal/policy"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

// FakeNetwork is an in-process stand-in for the decryption network, used in
// tests and local development. It seals plaintext with a key only the fake
// holds and evaluates the consent predicate against a chain registry exactly
// the way the real network does: release only if the predicate is true for
// the wallet named in the session proof.
type FakeNetwork struct {
	registry chain.Registry

	mu     sync.Mutex
	key    []byte
	sealed map[string][]policy.AccessCondition // digest -> conditions bound at encrypt time
	ready  bool
}

// NewFakeNetwork creates a connected fake evaluating predicates against registry.
func NewFakeNetwork(registry chain.Registry) (*FakeNetwork, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate network key: %w", err)
	}
	return &FakeNetwork{
		registry: registry,
		key:      key,
		sealed:   make(map[string][]policy.AccessCondition),
		ready:    true,
	}, nil
}

// Connect satisfies Connector so the fake can sit behind a Manager.
func (f *FakeNetwork) Connect(_ context.Context) (Network, error) {
	f.mu.Lock()
	f.ready = true
	f.mu.Unlock()
	return f, nil
}

func (f *FakeNetwork) Encrypt(_ context.Context, data []byte, conditions []policy.AccessCondition) (*EncryptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return nil, dErrors.New(dErrors.CodeTransport, "network not connected")
	}

	digest := PlaintextDigest(data)
	ciphertext, err := f.seal(data)
	if err != nil {
		return nil, err
	}
	f.sealed[digest] = conditions
	return &EncryptResult{Ciphertext: ciphertext, Digest: digest}, nil
}

func (f *FakeNetwork) Decrypt(ctx context.Context, req DecryptRequest) ([]byte, error) {
	f.mu.Lock()
	if !f.ready {
		f.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeTransport, "network not connected")
	}
	bound, known := f.sealed[req.Digest]
	f.mu.Unlock()

	claims, err := ParseProofClaims(req.Proof)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuthorizationDenied, "session proof rejected")
	}
	caller, err := domain.ParseAddress(claims.Subject)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeAuthorizationDenied, "session proof rejected: bad subject")
	}

	// The presented conditions must match the ones bound at encrypt time.
	if known && !conditionsEqual(bound, req.Conditions) {
		return nil, dErrors.New(dErrors.CodeAuthorizationDenied, "access control conditions check failed")
	}

	for _, c := range req.Conditions {
		ok, err := f.evaluate(ctx, c, caller)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, dErrors.New(dErrors.CodeAuthorizationDenied, "not authorized: consent predicate returned false")
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.open(req.Ciphertext)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuthorizationDenied, "ciphertext does not open")
	}
	if PlaintextDigest(data) != req.Digest {
		return nil, dErrors.New(dErrors.CodeAuthorizationDenied, "digest mismatch")
	}
	return data, nil
}

// evaluate runs one hasConsent condition with the caller substituted for the
// placeholder parameter.
func (f *FakeNetwork) evaluate(ctx context.Context, c policy.AccessCondition, caller domain.Address) (bool, error) {
	if c.Method != registry.MethodHasConsent || len(c.Parameters) != registry.HasConsentArity {
		return false, dErrors.New(dErrors.CodeAuthorizationDenied, "unsupported access condition")
	}

	params := make([]string, len(c.Parameters))
	for i, p := range c.Parameters {
		if p == policy.CallerPlaceholder {
			params[i] = caller.String()
		} else {
			params[i] = p
		}
	}

	owner, err := domain.ParseAddress(params[0])
	if err != nil {
		return false, dErrors.New(dErrors.CodeAuthorizationDenied, "malformed owner parameter")
	}
	researcher, err := domain.ParseAddress(params[1])
	if err != nil {
		return false, dErrors.New(dErrors.CodeAuthorizationDenied, "malformed caller parameter")
	}
	recordID, err := domain.ParseRecordID(params[2])
	if err != nil {
		return false, dErrors.New(dErrors.CodeAuthorizationDenied, "malformed record parameter")
	}

	granted, err := f.registry.HasConsent(ctx, owner, researcher, recordID)
	if err != nil {
		return false, err
	}

	want := c.ReturnValueTest.Value == registry.GrantedResult
	return granted == want, nil
}

func (f *FakeNetwork) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *FakeNetwork) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = false
	return nil
}

func (f *FakeNetwork) seal(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func (f *FakeNetwork) open(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

func conditionsEqual(a, b []policy.AccessCondition) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ContractAddress != b[i].ContractAddress ||
			a[i].Chain != b[i].Chain ||
			a[i].Method != b[i].Method ||
			a[i].ReturnValueTest != b[i].ReturnValueTest {
			return false
		}
		if len(a[i].Parameters) != len(b[i].Parameters) {
			return false
		}
		for j := range a[i].Parameters {
			if a[i].Parameters[j] != b[i].Parameters[j] {
				return false
			}
		}
	}
	return true
}

var (
	_ Network   = (*FakeNetwork)(nil)
	_ Connector = (*FakeNetwork)(nil)
)
