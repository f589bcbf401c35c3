package consent

import (
	"consentis/pkg/domain"
)

// TxKind names the consent-registry write being performed.
type TxKind string

const (
	TxGrant    TxKind = "grant"
	TxRevoke   TxKind = "revoke"
	TxRegister TxKind = "register"
)

// TxState is the observable transaction lifecycle.
type TxState string

const (
	TxIdle       TxState = "idle"
	TxPending    TxState = "pending"    // awaiting wallet signature / node acceptance
	TxConfirming TxState = "confirming" // accepted, awaiting chain inclusion
	TxConfirmed  TxState = "confirmed"
	TxFailed     TxState = "failed"
)

// Transaction is the ephemeral per-invocation state. One exists per
// grant/revoke call; it is observable, never persisted, and discarded
// by Reset.
type Transaction struct {
	Kind       TxKind
	Researcher domain.Address
	RecordID   domain.RecordID
	// Hash is set as soon as the node accepts the transaction so callers
	// can offer an explorer link regardless of the final outcome.
	Hash  domain.TxHash
	State TxState
	// Reason carries the raw failure message when State is TxFailed.
	Reason string
}

// CheckResult is the tri-state answer of a consent predicate query.
type CheckResult string

const (
	CheckGranted    CheckResult = "granted"
	CheckNotGranted CheckResult = "not_granted"
	// CheckUnknown means the query was not run (missing parameters).
	CheckUnknown CheckResult = "unknown"
)
