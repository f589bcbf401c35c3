package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/sha3"

	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

// LocalWallet is an in-process wallet for development and tests. The key
// lives inside the struct and is never returned; the address is derived from
// the public key the same way chain accounts are (last 20 bytes of the
// Keccak-256 of the public key).
type LocalWallet struct {
	mu     sync.Mutex
	key    ed25519.PrivateKey
	addr   domain.Address
	status Status
	events chan Event
}

// NewLocal generates a fresh key pair and starts disconnected.
func NewLocal() (*LocalWallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(pub)
	sum := h.Sum(nil)
	addr, err := domain.ParseAddress("0x" + hex.EncodeToString(sum[12:]))
	if err != nil {
		return nil, fmt.Errorf("derive wallet address: %w", err)
	}

	return &LocalWallet{
		key:    priv,
		addr:   addr,
		status: StatusDisconnected,
		events: make(chan Event, 8),
	}, nil
}

// Connect marks the wallet connected and emits a connect event.
func (w *LocalWallet) Connect() {
	w.setStatus(StatusConnected)
}

// BeginReconnect simulates the startup window before a prior session is restored.
func (w *LocalWallet) BeginReconnect() {
	w.setStatus(StatusReconnecting)
}

func (w *LocalWallet) Disconnect(_ context.Context) error {
	w.setStatus(StatusDisconnected)
	return nil
}

func (w *LocalWallet) setStatus(status Status) {
	w.mu.Lock()
	w.status = status
	addr := w.addr
	w.mu.Unlock()

	evt := Event{Status: status}
	if status == StatusConnected {
		evt.Address = addr
	}
	select {
	case w.events <- evt:
	default:
	}
}

func (w *LocalWallet) Address() (domain.Address, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusConnected {
		return "", false
	}
	return w.addr, true
}

func (w *LocalWallet) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *LocalWallet) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusConnected {
		return nil, dErrors.New(dErrors.CodeWalletNotConnected, "wallet not connected")
	}
	return ed25519.Sign(w.key, message), nil
}

func (w *LocalWallet) Events() <-chan Event { return w.events }

var _ Wallet = (*LocalWallet)(nil)
