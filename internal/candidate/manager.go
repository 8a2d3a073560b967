package candidate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farepact/farepact/internal/ride"
	"github.com/farepact/farepact/pkg/logger"
)

// Manager runs one candidate session per connected driver. Sessions start
// when the driver's realtime connection comes up and are torn down when it
// drops; nothing about the filter survives a reconnect.
type Manager struct {
	store  ride.Store
	window time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*managedSession
}

type managedSession struct {
	session *Session
	cancel  context.CancelFunc
}

// NewManager creates a session manager. window is the per-candidate decision
// countdown.
func NewManager(store ride.Store, window time.Duration) *Manager {
	return &Manager{
		store:    store,
		window:   window,
		sessions: make(map[uuid.UUID]*managedSession),
	}
}

// Start begins a fresh session for the driver, replacing any previous one.
// The returned session's Events channel closes when the session stops.
func (m *Manager) Start(ctx context.Context, driverID uuid.UUID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.sessions[driverID]; ok {
		prev.cancel()
	}

	session := NewSession(driverID, m.store, m.window)
	sessionCtx, cancel := context.WithCancel(ctx)
	m.sessions[driverID] = &managedSession{session: session, cancel: cancel}

	go func() {
		if err := session.Run(sessionCtx); err != nil && sessionCtx.Err() == nil {
			logger.Error("candidate session stopped",
				zap.String("driver_id", driverID.String()), zap.Error(err))
		}

		m.mu.Lock()
		if current, ok := m.sessions[driverID]; ok && current.session == session {
			delete(m.sessions, driverID)
		}
		m.mu.Unlock()
	}()

	return session
}

// Stop tears down the driver's session if one is running.
func (m *Manager) Stop(driverID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.sessions[driverID]; ok {
		current.cancel()
		delete(m.sessions, driverID)
	}
}

// StopSession tears down the given session only if it is still the driver's
// current one. A disconnect racing a reconnect must not kill the session the
// replacement connection just started.
func (m *Manager) StopSession(driverID uuid.UUID, session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.sessions[driverID]; ok && current.session == session {
		current.cancel()
		delete(m.sessions, driverID)
	}
}

// Get returns the driver's running session, or nil.
func (m *Manager) Get(driverID uuid.UUID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.sessions[driverID]; ok {
		return current.session
	}
	return nil
}

// Count reports how many sessions are running.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
