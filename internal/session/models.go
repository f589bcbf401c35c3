package session

import (
	"consentis/pkg/domain"
)

// ProfileStatus tracks the researcher profile check state machine.
type ProfileStatus string

const (
	ProfileStatusUnknown    ProfileStatus = "unknown"
	ProfileStatusChecking   ProfileStatus = "checking"
	ProfileStatusComplete   ProfileStatus = "complete"
	ProfileStatusIncomplete ProfileStatus = "incomplete"
)

// State is a point-in-time snapshot of the session.
//
// Invariant: IsAuthenticated ⇔ WalletAddress != "" and Role != "". The store
// recomputes the flag inside every transition; nothing assigns it directly.
type State struct {
	WalletAddress       domain.Address
	Role                domain.Role
	IsAuthenticated     bool
	ResearcherProfileID string
	ProfileStatus       ProfileStatus
	Hydrated            bool
}

// persistedState is the subset of State that survives process restarts.
// Profile status is deliberately excluded so every new process re-checks it.
type persistedState struct {
	WalletAddress   domain.Address `json:"walletAddress"`
	Role            domain.Role    `json:"role"`
	IsAuthenticated bool           `json:"isAuthenticated"`
}
