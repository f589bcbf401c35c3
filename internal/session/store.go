// Package session holds the process-wide session state machine.
//
// The store is the only mutable shared resource in the system. All mutation
// goes through the named transitions below, never direct field assignment,
// so the authentication invariant stays checkable in one place.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"consentis/internal/sentinel"
	"consentis/pkg/domain"
)

// StorageName is the fixed key the persisted session subset lives under.
const StorageName = "consentis-user-storage"

// Store is the process-wide session container. Every transition is atomic
// under the mutex and persists the durable subset before returning.
type Store struct {
	mu       sync.Mutex
	state    State
	storage  Storage
	logger   *slog.Logger
	hydrated chan struct{}
	subs     []chan State
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger instance for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates an empty, un-hydrated session store.
func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage:  storage,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		hydrated: make(chan struct{}),
		state:    State{ProfileStatus: ProfileStatusUnknown},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate loads the persisted subset from durable storage. It must complete
// before consumers trust the authenticated flag; Hydrated() signals completion.
// A missing slot is not an error: the session just starts empty.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Hydrated {
		return nil
	}

	data, err := s.storage.Load(ctx)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		// First run, nothing persisted.
	case err != nil:
		// Hydration still completes: a corrupt or unreadable slot must not
		// wedge the process in the never-authenticated limbo state.
		s.logger.Error("session hydration failed, starting empty", "error", err)
	default:
		var persisted persistedState
		if err := json.Unmarshal(data, &persisted); err != nil {
			s.logger.Error("persisted session is malformed, starting empty", "error", err)
		} else {
			s.state.WalletAddress = persisted.WalletAddress
			s.state.Role = persisted.Role
			s.state.IsAuthenticated = persisted.WalletAddress != "" && persisted.Role != ""
		}
	}

	s.state.Hydrated = true
	close(s.hydrated)
	s.notifyLocked()
	return nil
}

// Hydrated is closed once persisted state has been loaded.
func (s *Store) Hydrated() <-chan struct{} { return s.hydrated }

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel receiving a snapshot after every transition.
// Slow subscribers drop intermediate snapshots rather than block transitions.
func (s *Store) Subscribe() <-chan State {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan State, 1)
	s.subs = append(s.subs, ch)
	return ch
}

// SetWalletAddress binds the connected wallet address. Authentication is
// recomputed: it holds only when both address and role are present.
func (s *Store) SetWalletAddress(ctx context.Context, addr domain.Address) {
	s.transition(ctx, func(st *State) {
		st.WalletAddress = addr
		st.IsAuthenticated = addr != "" && st.Role != ""
	})
}

// SetRole binds a role to whatever wallet is currently connected.
// Authentication is recomputed the same way as SetWalletAddress.
func (s *Store) SetRole(ctx context.Context, role domain.Role) {
	s.transition(ctx, func(st *State) {
		st.Role = role
		st.IsAuthenticated = st.WalletAddress != "" && role != ""
	})
}

// SetUser binds address and role in one atomic update; the caller is
// authenticated from the same transition onward.
func (s *Store) SetUser(ctx context.Context, addr domain.Address, role domain.Role) {
	s.transition(ctx, func(st *State) {
		st.WalletAddress = addr
		st.Role = role
		st.IsAuthenticated = true
	})
}

// ClearUser wipes the session on logout or wallet disconnect. Hydration
// completeness survives; everything else resets, including profile state.
func (s *Store) ClearUser(ctx context.Context) {
	s.transition(ctx, func(st *State) {
		*st = State{Hydrated: st.Hydrated, ProfileStatus: ProfileStatusUnknown}
	})
}

// SetResearcherProfile records the outcome of a profile lookup or creation.
// An empty id means no profile was found.
func (s *Store) SetResearcherProfile(ctx context.Context, profileID string) {
	s.transition(ctx, func(st *State) {
		st.ResearcherProfileID = profileID
		if profileID == "" {
			st.ProfileStatus = ProfileStatusIncomplete
		} else {
			st.ProfileStatus = ProfileStatusComplete
		}
	})
}

// SetProfileStatus moves the profile state machine explicitly. Used by the
// profile gate to mark "checking" and by role selection to force a re-check.
func (s *Store) SetProfileStatus(ctx context.Context, status ProfileStatus) {
	s.transition(ctx, func(st *State) {
		st.ProfileStatus = status
	})
}

func (s *Store) transition(ctx context.Context, mutate func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutate(&s.state)
	s.persistLocked(ctx)
	s.notifyLocked()
}

// persistLocked saves the durable subset. Persistence failure is logged, not
// surfaced: the in-memory session remains the source of truth for this
// process, and the next successful transition overwrites the slot anyway.
func (s *Store) persistLocked(ctx context.Context) {
	data, err := json.Marshal(persistedState{
		WalletAddress:   s.state.WalletAddress,
		Role:            s.state.Role,
		IsAuthenticated: s.state.IsAuthenticated,
	})
	if err != nil {
		s.logger.Error("marshal session", "error", err)
		return
	}
	if err := s.storage.Save(ctx, data); err != nil {
		s.logger.Error("persist session", "error", err)
	}
}

func (s *Store) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- s.state:
		default:
			// Drop the stale snapshot and replace it with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s.state:
			default:
			}
		}
	}
}
