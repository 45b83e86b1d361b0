package collab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roomsync-dev/roomsync/internal/breaker"
	"github.com/roomsync-dev/roomsync/internal/crdt"
	"github.com/roomsync-dev/roomsync/internal/metrics"
	"github.com/roomsync-dev/roomsync/internal/transport"
)

// Manager holds at most one live session and folds its transport
// events into a Status that observers poll or watch. It never redials
// on its own. Reconnection belongs to the transport; the manager's
// only corrective action is the circuit breaker, and that one is
// coarse: destroy the session and disable the room.
type Manager struct {
	opener  transport.Opener
	tracker *breaker.Tracker
	logger  *slog.Logger

	mu       sync.Mutex
	session  *Session
	status   Status
	disabled map[string]struct{}

	statusCh chan Status

	wg sync.WaitGroup
}

// New creates a manager that opens sessions through opener.
func New(cfg Config, opener transport.Opener, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		opener:   opener,
		tracker:  breaker.New(cfg.Breaker),
		logger:   logger.With("component", "collab"),
		disabled: make(map[string]struct{}),
		statusCh: make(chan Status, 1),
	}
}

// CreateSession opens a session for room, replacing any active one.
// The replaced session is destroyed before the new transport dials.
//
// Creating a session is also the explicit recovery path for a room the
// breaker disabled: the room is re-enabled and its failure record
// wiped before the dial.
func (m *Manager) CreateSession(ctx context.Context, url, room string, initial []byte) (*Session, error) {
	if room == "" {
		return nil, ErrNoRoom
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.destroyLocked()

	delete(m.disabled, room)
	m.tracker.RecordSuccess(room)

	doc := crdt.New(room)
	if len(initial) > 0 {
		if err := doc.Merge(initial); err != nil {
			doc.Close()
			return nil, fmt.Errorf("merge initial document: %w", err)
		}
	}

	handle, err := m.opener.Open(ctx, url, room, doc)
	if err != nil {
		doc.Close()
		return nil, fmt.Errorf("open transport: %w", err)
	}

	s := newSession(room, doc, handle)
	m.session = s
	m.status = Status{}
	m.publishLocked()

	metrics.SessionsCreated.Inc()
	m.logger.Info("session created", "room", room, "session", s.id)

	m.wg.Add(1)
	go m.consume(s)

	return s, nil
}

// DestroySession tears down the active session. Calling it with no
// session is a no-op.
func (m *Manager) DestroySession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyLocked()
}

// Session returns the active session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Status returns the current aggregated status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Updates returns a channel carrying status snapshots. The channel
// holds the latest snapshot only. A slow reader observes the newest
// state, not every transition.
func (m *Manager) Updates() <-chan Status {
	return m.statusCh
}

// IsDisabled reports whether the breaker has taken room out of
// service. Only CreateSession for the same room re-enables it.
func (m *Manager) IsDisabled(room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disabled[room]; ok {
		return true
	}
	return m.tracker.Disabled(room)
}

// Failures returns the room's current consecutive failure count.
func (m *Manager) Failures(room string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.Count(room)
}

// ResetLostConnection clears the sticky lost-connection flag and
// nothing else.
func (m *Manager) ResetLostConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.status.LostConnection {
		return
	}
	m.status.LostConnection = false
	m.publishLocked()
}

// Close destroys the active session and waits until event delivery
// has drained.
func (m *Manager) Close() {
	m.DestroySession()
	m.wg.Wait()
}

// consume drains one session's transport events. Dispatch takes the
// manager lock, so handlers never run concurrently with each other or
// with API calls.
func (m *Manager) consume(s *Session) {
	defer m.wg.Done()
	for e := range s.handle.Events() {
		m.dispatch(s, e)
	}
}

func (m *Manager) dispatch(s *Session, e transport.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A replaced session's channel can still hold events. They must
	// not touch the current session's state.
	if m.session == nil || m.session.id != s.id {
		return
	}

	switch e.Type {
	case transport.EventConnect:
		m.tracker.RecordSuccess(s.room)
		m.status.Connected = true
		m.publishLocked()

	case transport.EventDisconnect:
		if m.status.Connected {
			m.status.LostConnection = true
		}
		m.status.Connected = false
		m.publishLocked()

	case transport.EventStatusChange:
		connected := e.Status == transport.StateConnected
		if m.status.Connected && !connected {
			m.status.LostConnection = true
		}
		if !connected {
			m.status.Ready = true
		}
		m.status.Connected = connected
		m.publishLocked()

	case transport.EventSynced:
		m.status.Synced = e.Synced
		m.status.Ready = true
		m.publishLocked()

	case transport.EventAuthFailed:
		m.logger.Warn("authentication failed", "room", s.room, "reason", e.Reason)
		m.status.Ready = true
		m.publishLocked()

	case transport.EventClose:
		m.handleCloseLocked(s, e.Code, e.Reason)
	}
}

// handleCloseLocked applies the close-code policy: a normal closure
// wipes the failure record, an abnormal closure feeds the breaker,
// anything else is informational.
func (m *Manager) handleCloseLocked(s *Session, code int, reason string) {
	switch code {
	case transport.CloseNormal:
		m.tracker.RecordSuccess(s.room)
		// After a server-initiated reset the transport can linger in a
		// half-open state. Force the teardown instead of waiting it
		// out.
		s.handle.Disconnect()

	case transport.CloseNoStatus:
		count := m.tracker.RecordFailure(s.room)
		metrics.SessionFailures.Inc()
		m.logger.Warn("abnormal closure", "room", s.room, "reason", reason, "failures", count)

		if !m.tracker.Disabled(s.room) {
			return
		}

		m.logger.Error("failure threshold reached, disabling room", "room", s.room)
		metrics.BreakerTrips.Inc()
		m.tracker.Clear(s.room)
		m.disabled[s.room] = struct{}{}
		m.destroyLocked()
	}
}

// destroyLocked releases the active session and resets the status.
func (m *Manager) destroyLocked() {
	if m.session == nil {
		return
	}

	s := m.session
	m.session = nil
	s.Destroy()

	m.status = Status{}
	m.publishLocked()

	metrics.SessionsDestroyed.Inc()
	m.logger.Info("session destroyed", "room", s.room, "session", s.id)
}

// publishLocked places the current status on the watch channel,
// displacing a stale unread snapshot if one is sitting there.
func (m *Manager) publishLocked() {
	select {
	case m.statusCh <- m.status:
	default:
		select {
		case <-m.statusCh:
			m.statusCh <- m.status
		default:
		}
	}
}
