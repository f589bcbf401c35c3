// Package domain provides type-safe identifiers to prevent mixing up values at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "consentis/pkg/domain-errors"
)

// RecordID identifies one uploaded record. It is a random 128-bit identifier;
// every pipeline invocation allocates a fresh one, so retries never collide
// with a partially-failed prior attempt.
type RecordID string

const recordIDPrefix = "rec_"

// NewRecordID allocates a fresh collision-resistant record identifier.
func NewRecordID() RecordID {
	return RecordID(recordIDPrefix + uuid.NewString())
}

// ParseRecordID validates a record identifier at a trust boundary.
func ParseRecordID(s string) (RecordID, error) {
	if len(s) <= len(recordIDPrefix) || s[:len(recordIDPrefix)] != recordIDPrefix {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid record ID")
	}
	if _, err := uuid.Parse(s[len(recordIDPrefix):]); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid record ID")
	}
	return RecordID(s), nil
}

func (id RecordID) String() string { return string(id) }

// ContentAddress is a digest-derived locator for immutable stored ciphertext.
type ContentAddress string

func (c ContentAddress) String() string { return string(c) }

// TxHash identifies a submitted chain transaction.
type TxHash string

func (h TxHash) String() string { return string(h) }

// Role is the locally chosen user role.
type Role string

const (
	RolePatient    Role = "patient"
	RoleResearcher Role = "researcher"
)

// Valid reports whether the role is one of the two known roles.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleResearcher
}

// ParseRole validates a role string at a trust boundary.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}
