// Package chain binds the consent-registry smart contract.
//
// The node and the contract are external collaborators; this package only
// defines the client surface the pipelines drive and the adapters that speak
// to a real node or to an in-memory fake.
package chain

import (
	"context"

	"consentis/pkg/domain"
)

// Registry is the consent-registry contract surface.
//
// Write methods submit one transaction each and return as soon as the node
// has accepted it (the hash is available immediately for explorer links);
// confirmation is a separate, pollable step. Error Contract:
// - write methods return transaction_rejected when the user declines the
//   signature or the node refuses the transaction
// - WaitConfirmed returns transaction_rejected when the transaction reverts
// - HasConsent is read-only and never mutates state
type Registry interface {
	GrantConsent(ctx context.Context, researcher domain.Address, recordID domain.RecordID) (domain.TxHash, error)
	RevokeConsent(ctx context.Context, researcher domain.Address, recordID domain.RecordID) (domain.TxHash, error)
	RegisterRecord(ctx context.Context, recordID domain.RecordID) (domain.TxHash, error)

	// WaitConfirmed blocks until the transaction has the required number of
	// confirmations, polling the node. Respects ctx cancellation.
	WaitConfirmed(ctx context.Context, hash domain.TxHash, confirmations int) error

	// HasConsent evaluates the consent predicate for (owner, researcher, record).
	HasConsent(ctx context.Context, owner, researcher domain.Address, recordID domain.RecordID) (bool, error)
}
