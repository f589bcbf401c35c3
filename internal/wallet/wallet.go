// Package wallet defines the wallet boundary. Private key material never
// crosses it: callers see an address, a connection status, and an
// interactive message-signing capability.
package wallet

import (
	"context"

	"consentis/pkg/domain"
)

// Status is the live wallet connection state.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	// StatusReconnecting covers the startup window where a previously
	// connected wallet has not yet re-established its session. Consumers
	// must not treat it as either connected or disconnected.
	StatusReconnecting Status = "reconnecting"
)

// Event is emitted on every connection state change.
type Event struct {
	Status  Status
	Address domain.Address
}

// Wallet is the signing boundary.
type Wallet interface {
	// Address returns the connected account, or ok=false when disconnected.
	Address() (addr domain.Address, ok bool)

	// Status returns the live connection state.
	Status() Status

	// SignMessage interactively signs an arbitrary message with the wallet's
	// private key. Blocks until the user approves or rejects.
	SignMessage(ctx context.Context, message []byte) ([]byte, error)

	// Disconnect tears down the wallet session.
	Disconnect(ctx context.Context) error

	// Events streams connection state changes.
	Events() <-chan Event
}
