package threshold

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"consentis/internal/platform/metrics"
)

// Manager owns the single process-wide network handle. The connection is
// lazily established on first use and reused; after a teardown the next Get
// reconnects. Concurrent first calls collapse into one handshake.
type Manager struct {
	connector Connector
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	current Network
	sf      singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger instance for the manager.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics instance for the manager.
func WithMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager wraps a connector in the shared-handle policy.
func NewManager(connector Connector, opts ...ManagerOption) *Manager {
	m := &Manager{
		connector: connector,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a ready network handle, connecting or reconnecting as needed.
func (m *Manager) Get(ctx context.Context) (Network, error) {
	m.mu.Lock()
	if m.current != nil && m.current.Ready() {
		n := m.current
		m.mu.Unlock()
		return n, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do("connect", func() (any, error) {
		// Re-check under the flight: a concurrent caller may have connected.
		m.mu.Lock()
		if m.current != nil && m.current.Ready() {
			n := m.current
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()

		// The handshake outcome is shared by every collapsed caller, so it
		// must not inherit the triggering caller's cancellation or deadline.
		// The connector bounds the handshake itself.
		n, err := m.connector.Connect(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		m.logger.Info("threshold network connected")
		if m.metrics != nil {
			m.metrics.ThresholdConnects.Inc()
		}

		m.mu.Lock()
		m.current = n
		m.mu.Unlock()
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Network), nil
}

// Disconnect tears down the current handle. The next Get reconnects.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	n := m.current
	m.current = nil
	m.mu.Unlock()

	if n == nil {
		return nil
	}
	return n.Disconnect(ctx)
}
