package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mhive-gcs/internal/protocol"
)

// Manager owns the current Session. A Session runs once from Connect to
// Close, so connect/disconnect cycles from the API each get a fresh one.
type Manager struct {
	cfg     Config
	onEvent func(protocol.Event)

	// prepare runs on every new session before Connect; tests use it to
	// stub the port.
	prepare func(*Session)

	mu   sync.Mutex
	sess *Session
}

func NewManager(cfg Config, onEvent func(protocol.Event)) *Manager {
	return &Manager{cfg: cfg, onEvent: onEvent}
}

// Connect starts a new session. An existing live session is an error; a
// session that already gave up reconnecting is replaced.
func (m *Manager) Connect(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("link manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		if st := m.sess.Snapshot(time.Now()).State; st != StateDisconnected {
			return fmt.Errorf("already %s", st)
		}
		m.sess.Close()
		m.sess = nil
	}

	s, err := New(m.cfg, m.onEvent)
	if err != nil {
		return err
	}
	if m.prepare != nil {
		m.prepare(s)
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	m.sess = s
	return nil
}

// SetConfig swaps the config used for future sessions. The running
// session, if any, keeps its old config until the next Connect.
func (m *Manager) SetConfig(cfg Config) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// SetTarget overrides the port and baud for future sessions. Empty port
// or zero baud keep the current value.
func (m *Manager) SetTarget(port string, baud int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if port != "" {
		m.cfg.Port = port
	}
	if baud > 0 {
		m.cfg.Baud = baud
	}
	m.mu.Unlock()
}

// Disconnect closes the current session, if any.
func (m *Manager) Disconnect() error {
	if m == nil {
		return fmt.Errorf("link manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ErrNotConnected
	}
	m.sess.Close()
	m.sess = nil
	return nil
}

func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		m.sess.Close()
		m.sess = nil
	}
}

func (m *Manager) Snapshot(nowUTC time.Time) Snapshot {
	if m == nil {
		return Snapshot{State: StateDisconnected}
	}
	m.mu.Lock()
	s := m.sess
	baud := m.cfg.Baud
	m.mu.Unlock()
	if s == nil {
		return Snapshot{State: StateDisconnected, Baud: baud}
	}
	return s.Snapshot(nowUTC)
}

func (m *Manager) SendPIDGain(axis protocol.PIDAxis, p, i, d float64) error {
	s := m.current()
	if s == nil {
		return ErrNotConnected
	}
	return s.SendPIDGain(axis, p, i, d)
}

// SendRaw frames an arbitrary message and writes it to the port. The
// payload is zero-padded to the fixed frame size.
func (m *Manager) SendRaw(id byte, payload []byte) error {
	s := m.current()
	if s == nil {
		return ErrNotConnected
	}
	return s.Send(protocol.EncodeFrame(id, payload))
}

func (m *Manager) RequestPIDGains() error {
	s := m.current()
	if s == nil {
		return ErrNotConnected
	}
	return s.RequestPIDGains()
}

func (m *Manager) current() *Session {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}
