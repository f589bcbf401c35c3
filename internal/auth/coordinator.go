// Package auth reconciles wallet connection events with the session store
// and derives the authentication view consumers act on.
package auth

import (
	"context"
	"io"
	"log/slog"

	"consentis/internal/auth/profile"
	"consentis/internal/session"
	"consentis/internal/wallet"
	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

// View is the derived authentication state exposed to consumers.
//
// IsAuthenticated here is stricter than the session invariant: it is false
// until hydration completes and while the wallet is reconnecting, so nothing
// acts on a session that may be about to change.
type View struct {
	WalletAddress          domain.Address
	Role                   domain.Role
	IsAuthenticated        bool
	ProfileStatus          session.ProfileStatus
	NeedsRoleSelection     bool
	NeedsResearcherProfile bool
}

// Coordinator owns the wallet↔session reconciliation. It is the only writer
// of role and wallet bindings; the profile gate owns profile status.
type Coordinator struct {
	wallet   wallet.Wallet
	sessions *session.Store
	gate     *profile.Gate
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger instance for the coordinator.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator wires the wallet, session store and profile gate together.
func NewCoordinator(w wallet.Wallet, sessions *session.Store, gate *profile.Gate, opts ...Option) *Coordinator {
	c := &Coordinator{
		wallet:   w,
		sessions: sessions,
		gate:     gate,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes wallet events until the context is cancelled or the event
// stream closes. Intended to be started once per process.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.wallet.Events():
			if !ok {
				return
			}
			c.HandleWalletEvent(ctx, evt)
		}
	}
}

// HandleWalletEvent reconciles one wallet connection event with the session.
func (c *Coordinator) HandleWalletEvent(ctx context.Context, evt wallet.Event) {
	switch evt.Status {
	case wallet.StatusConnected:
		st := c.sessions.Snapshot()
		if st.WalletAddress != evt.Address {
			c.logger.Info("wallet connected", "address", evt.Address)
			c.sessions.SetWalletAddress(ctx, evt.Address)
		}
		c.checkProfile(ctx)
	case wallet.StatusDisconnected:
		st := c.sessions.Snapshot()
		if st.WalletAddress != "" {
			c.logger.Info("wallet disconnected, clearing session", "address", st.WalletAddress)
			c.sessions.ClearUser(ctx)
		}
	case wallet.StatusReconnecting:
		// The session keeps its persisted binding; the derived view simply
		// withholds IsAuthenticated until the wallet settles.
	}
}

// SelectRole binds a role to the connected wallet. Authentication becomes
// true in the same update. Selecting researcher forces a fresh profile check.
func (c *Coordinator) SelectRole(ctx context.Context, role domain.Role) error {
	addr, ok := c.wallet.Address()
	if !ok {
		return dErrors.New(dErrors.CodeWalletNotConnected, "wallet not connected")
	}

	c.sessions.SetUser(ctx, addr, role)
	if role == domain.RoleResearcher {
		c.sessions.SetProfileStatus(ctx, session.ProfileStatusUnknown)
		c.checkProfile(ctx)
	}
	c.logger.Info("role selected", "address", addr, "role", role)
	return nil
}

// Logout disconnects the wallet and unconditionally clears the session.
func (c *Coordinator) Logout(ctx context.Context) error {
	err := c.wallet.Disconnect(ctx)
	c.sessions.ClearUser(ctx)
	return err
}

// State derives the consumer-facing view from session and wallet state.
func (c *Coordinator) State() View {
	st := c.sessions.Snapshot()
	walletStatus := c.wallet.Status()

	authenticated := st.IsAuthenticated &&
		st.Hydrated &&
		walletStatus != wallet.StatusReconnecting

	return View{
		WalletAddress:      st.WalletAddress,
		Role:               st.Role,
		IsAuthenticated:    authenticated,
		ProfileStatus:      st.ProfileStatus,
		NeedsRoleSelection: st.Hydrated && st.WalletAddress != "" && st.Role == "",
		NeedsResearcherProfile: authenticated &&
			st.Role == domain.RoleResearcher &&
			st.ProfileStatus == session.ProfileStatusIncomplete,
	}
}

// checkProfile runs the profile gate when the session warrants it. The gate
// is a no-op unless an address is present and the status is Unknown, so this
// is safe to call on every relevant event.
func (c *Coordinator) checkProfile(ctx context.Context) {
	st := c.sessions.Snapshot()
	if st.Role != domain.RoleResearcher {
		return
	}
	if err := c.gate.Check(ctx); err != nil {
		c.logger.Error("profile check failed", "error", err)
	}
}
