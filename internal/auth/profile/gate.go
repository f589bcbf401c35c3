// Package profile verifies researcher profiles against the off-chain store
// and drives the session's profile-status state machine.
package profile

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"consentis/internal/sentinel"
	"consentis/internal/session"
	dErrors "consentis/pkg/domain-errors"
	s "consentis/pkg/string"
	"consentis/pkg/validation"
)

// Gate runs the profile check for the researcher role.
//
// State machine on session.ProfileStatus:
//
//	Unknown → Checking → Complete   (profile found)
//	Unknown → Checking → Incomplete (no profile)
//	Incomplete → Complete           (successful creation)
//
// clearUser forces any state back to Unknown; the gate never does.
type Gate struct {
	store    Store
	sessions *session.Store
	logger   *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger instance for the gate.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// NewGate wires the profile store to the session store.
func NewGate(store Store, sessions *session.Store, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		sessions: sessions,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs one profile lookup if one is due. It is a no-op unless an
// address is present and the status is Unknown, so callers may invoke it
// freely on every relevant event.
func (g *Gate) Check(ctx context.Context) error {
	st := g.sessions.Snapshot()
	if st.WalletAddress == "" || st.ProfileStatus != session.ProfileStatusUnknown {
		return nil
	}

	g.sessions.SetProfileStatus(ctx, session.ProfileStatusChecking)

	p, err := g.store.FindByAddress(ctx, st.WalletAddress)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		g.sessions.SetResearcherProfile(ctx, "")
		return nil
	case err != nil:
		// Lookup failure is not "no profile": return to Unknown so the
		// next Check retries instead of steering the user into onboarding.
		g.logger.Error("profile check failed", "address", st.WalletAddress, "error", err)
		g.sessions.SetProfileStatus(ctx, session.ProfileStatusUnknown)
		return err
	default:
		g.sessions.SetResearcherProfile(ctx, p.ID)
		return nil
	}
}

// Create registers a new researcher profile and completes the state machine.
func (g *Gate) Create(ctx context.Context, req CreateRequest) (string, error) {
	st := g.sessions.Snapshot()
	if st.WalletAddress == "" {
		return "", dErrors.New(dErrors.CodeWalletNotConnected, "wallet not connected")
	}
	req.WalletAddress = st.WalletAddress
	s.TrimStrings(&req.Name, &req.Institution, &req.Email)

	if err := validation.Validate(req); err != nil {
		return "", err
	}

	id, err := g.store.Create(ctx, req)
	if err != nil {
		return "", err
	}
	g.sessions.SetResearcherProfile(ctx, id)
	g.logger.Info("researcher profile created", "profile_id", id)
	return id, nil
}
