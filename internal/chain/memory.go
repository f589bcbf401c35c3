package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

// MemoryRegistry is an in-memory registry for tests and local development.
// Transactions confirm after PendingConfirms polls of WaitConfirmed, which
// lets tests observe the Confirming state deterministically.
type MemoryRegistry struct {
	mu sync.Mutex

	caller     domain.Address
	registered map[domain.RecordID]domain.Address
	consents   map[consentKey]bool
	txSeen     map[domain.TxHash]int

	// PendingConfirms is how many WaitConfirmed polls a transaction stays
	// unconfirmed for. Zero confirms immediately.
	PendingConfirms int

	// FailNextSubmit makes the next write return transaction_rejected.
	FailNextSubmit bool
}

type consentKey struct {
	owner      string
	researcher string
	recordID   domain.RecordID
}

// NewMemoryRegistry creates a registry that attributes writes to caller.
func NewMemoryRegistry(caller domain.Address) *MemoryRegistry {
	return &MemoryRegistry{
		caller:     caller,
		registered: make(map[domain.RecordID]domain.Address),
		consents:   make(map[consentKey]bool),
		txSeen:     make(map[domain.TxHash]int),
	}
}

// SetCaller rebinds the transaction sender (the registry records grants
// against the caller as owner, mirroring msg.sender on chain).
func (m *MemoryRegistry) SetCaller(caller domain.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caller = caller
}

func (m *MemoryRegistry) GrantConsent(_ context.Context, researcher domain.Address, recordID domain.RecordID) (domain.TxHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSubmit(); err != nil {
		return "", err
	}
	m.consents[consentKey{m.caller.Lower(), researcher.Lower(), recordID}] = true
	return m.newTx(), nil
}

func (m *MemoryRegistry) RevokeConsent(_ context.Context, researcher domain.Address, recordID domain.RecordID) (domain.TxHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSubmit(); err != nil {
		return "", err
	}
	m.consents[consentKey{m.caller.Lower(), researcher.Lower(), recordID}] = false
	return m.newTx(), nil
}

func (m *MemoryRegistry) RegisterRecord(_ context.Context, recordID domain.RecordID) (domain.TxHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSubmit(); err != nil {
		return "", err
	}
	if owner, exists := m.registered[recordID]; exists && !owner.Equal(m.caller) {
		return "", dErrors.New(dErrors.CodeTransactionRejected, "record already registered to another owner")
	}
	m.registered[recordID] = m.caller
	return m.newTx(), nil
}

func (m *MemoryRegistry) WaitConfirmed(ctx context.Context, hash domain.TxHash, _ int) error {
	for {
		m.mu.Lock()
		seen, known := m.txSeen[hash]
		if known {
			m.txSeen[hash] = seen + 1
		}
		m.mu.Unlock()

		if !known {
			return dErrors.New(dErrors.CodeNotFound, "unknown transaction")
		}
		if seen >= m.PendingConfirms {
			return nil
		}
		select {
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "confirmation wait canceled")
		default:
		}
	}
}

func (m *MemoryRegistry) HasConsent(_ context.Context, owner, researcher domain.Address, recordID domain.RecordID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, registered := m.registered[recordID]; !registered {
		return false, nil
	}
	return m.consents[consentKey{owner.Lower(), researcher.Lower(), recordID}], nil
}

func (m *MemoryRegistry) checkSubmit() error {
	if m.caller == "" {
		return dErrors.New(dErrors.CodeWalletNotConnected, "no transaction sender")
	}
	if m.FailNextSubmit {
		m.FailNextSubmit = false
		return dErrors.New(dErrors.CodeTransactionRejected, "transaction rejected")
	}
	return nil
}

func (m *MemoryRegistry) newTx() domain.TxHash {
	hash := domain.TxHash(fmt.Sprintf("0x%x", uuid.New()))
	m.txSeen[hash] = 0
	return hash
}

var _ Registry = (*MemoryRegistry)(nil)
