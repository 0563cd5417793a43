package link

import (
	"context"
	"io"
	"testing"
	"time"

	"mhive-gcs/internal/protocol"
)

func newTestManager(t *testing.T, open func(string, int, time.Duration) (io.ReadWriteCloser, error)) *Manager {
	t.Helper()
	m := NewManager(testConfig(), func(protocol.Event) {})
	m.prepare = func(s *Session) {
		s.openPort = open
		s.listPorts = func() []string { return nil }
	}
	t.Cleanup(m.Close)
	return m
}

func TestManager_ConnectDisconnectCycle(t *testing.T) {
	m := newTestManager(t, func(string, int, time.Duration) (io.ReadWriteCloser, error) {
		return newFakePort(), nil
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return m.Snapshot(time.Now()).State == StateConnected })

	if err := m.Connect(context.Background()); err == nil {
		t.Fatalf("second connect must fail while connected")
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if st := m.Snapshot(time.Now()).State; st != StateDisconnected {
		t.Fatalf("state after disconnect: %q", st)
	}
	if err := m.Disconnect(); err == nil {
		t.Fatalf("disconnect while disconnected must fail")
	}

	// A fresh session comes up after a full cycle.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitFor(t, "connected again", func() bool { return m.Snapshot(time.Now()).State == StateConnected })
}

func TestManager_SendRequiresSession(t *testing.T) {
	m := newTestManager(t, func(string, int, time.Duration) (io.ReadWriteCloser, error) {
		return newFakePort(), nil
	})
	if err := m.SendPIDGain(protocol.AxisYawRate, 1, 2, 3); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := m.RequestPIDGains(); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := m.SendRaw(0x10, nil); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_SendRaw(t *testing.T) {
	port := newFakePort()
	m := newTestManager(t, func(string, int, time.Duration) (io.ReadWriteCloser, error) {
		return port, nil
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return m.Snapshot(time.Now()).State == StateConnected })

	if err := m.SendRaw(0x42, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("send raw: %v", err)
	}
	w := port.lastWrite()
	if len(w) != protocol.FrameSize {
		t.Fatalf("write length: got %d", len(w))
	}
	if w[0] != protocol.SyncGS[0] || w[1] != protocol.SyncGS[1] {
		t.Fatalf("expected GS sync, got %02x%02x", w[0], w[1])
	}
	if w[2] != 0x42 || w[3] != 0x01 || w[4] != 0x02 || w[5] != 0x00 {
		t.Fatalf("frame body: % 02x", w[2:6])
	}
	if !protocol.ValidateChecksum(w) {
		t.Fatalf("bad checksum on outbound frame")
	}
}

func TestManager_ReplacesDeadSession(t *testing.T) {
	port := newFakePort()
	m := newTestManager(t, func(string, int, time.Duration) (io.ReadWriteCloser, error) {
		select {
		case <-port.closed:
			return nil, io.ErrClosedPipe
		default:
			return port, nil
		}
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return m.Snapshot(time.Now()).State == StateConnected })

	// Kill the port; the session retries, exhausts its attempts, and parks
	// in disconnected. Connect then replaces it without an explicit
	// Disconnect call.
	port.Close()
	waitFor(t, "session gave up", func() bool { return m.Snapshot(time.Now()).State == StateDisconnected })

	replacement := newFakePort()
	m.prepare = func(s *Session) {
		s.openPort = func(string, int, time.Duration) (io.ReadWriteCloser, error) { return replacement, nil }
		s.listPorts = func() []string { return nil }
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("replace connect: %v", err)
	}
	waitFor(t, "replacement connected", func() bool { return m.Snapshot(time.Now()).State == StateConnected })
}

func TestManager_SetConfigAppliesToNextSession(t *testing.T) {
	var openedPort string
	var openedBaud int
	m := newTestManager(t, func(path string, baud int, _ time.Duration) (io.ReadWriteCloser, error) {
		openedPort = path
		openedBaud = baud
		return newFakePort(), nil
	})

	next := testConfig()
	next.Port = "/dev/ttyTEST9"
	next.Baud = 57600
	m.SetConfig(next)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "connected", func() bool { return m.Snapshot(time.Now()).State == StateConnected })
	if openedPort != "/dev/ttyTEST9" || openedBaud != 57600 {
		t.Fatalf("opened %q at %d, want /dev/ttyTEST9 at 57600", openedPort, openedBaud)
	}
	if got := m.Snapshot(time.Now()).Baud; got != 57600 {
		t.Fatalf("snapshot baud = %d, want 57600", got)
	}
}
