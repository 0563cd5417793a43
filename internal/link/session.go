package link

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"

	"mhive-gcs/internal/protocol"
)

// Session states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

var ErrNotConnected = errors.New("link: not connected")

type Config struct {
	// Port is the preferred serial device. When empty, or when opening it
	// fails, enumerated ports are probed instead.
	Port string
	Baud int

	ReadTimeout time.Duration

	// MaxReconnects bounds consecutive failed connection attempts before
	// the session gives up and goes back to disconnected.
	MaxReconnects    int
	ReconnectBackoff time.Duration
}

// Session owns the serial link to the flight controller: one reader
// goroutine feeds the stream demuxer and decoder, and writes are
// serialized through Send. Decoded events are delivered to the onEvent
// callback from the reader goroutine; the callback should be fast.
type Session struct {
	cfg     Config
	onEvent func(protocol.Event)

	// Swappable for tests.
	openPort  func(path string, baud int, timeout time.Duration) (io.ReadWriteCloser, error)
	listPorts func() []string

	started atomic.Bool
	closed  atomic.Bool

	writeMu sync.Mutex

	mu          sync.RWMutex
	state       string
	portPath    string
	port        io.ReadWriteCloser
	lastErr     string
	lastSeen    time.Time
	bytesIn     uint64
	framesIn    uint64
	sentencesIn uint64
	dropped     uint64
	framesOut   uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type Snapshot struct {
	State       string `json:"state"`
	Port        string `json:"port,omitempty"`
	Baud        int    `json:"baud,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	BytesIn     uint64 `json:"bytes_in"`
	FramesIn    uint64 `json:"frames_in"`
	SentencesIn uint64 `json:"sentences_in"`
	Dropped     uint64 `json:"dropped"`
	FramesOut   uint64 `json:"frames_out"`
}

func New(cfg Config, onEvent func(protocol.Event)) (*Session, error) {
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 2 * time.Second
	}
	if onEvent == nil {
		return nil, fmt.Errorf("link onEvent is nil")
	}
	return &Session{
		cfg:       cfg,
		onEvent:   onEvent,
		openPort:  openSerial,
		listPorts: ListPorts,
		state:     StateDisconnected,
		done:      make(chan struct{}),
	}, nil
}

func openSerial(path string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
	return serial.OpenPort(&serial.Config{Name: path, Baud: baud, ReadTimeout: timeout})
}

// Connect starts the reader goroutine. The session connects, and on read
// failure reconnects with a fixed backoff, probing enumerated ports; after
// MaxReconnects consecutive failures it returns to disconnected.
func (s *Session) Connect(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("link session is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	if s.closed.Load() {
		return fmt.Errorf("link session is closed")
	}
	if s.started.Swap(true) {
		return fmt.Errorf("link session already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setState(StateConnecting, "")

	go func() {
		defer close(s.done)
		s.run(runCtx)
	}()
	return nil
}

// Close stops the reader and closes the port. Safe to call more than once.
func (s *Session) Close() {
	if s == nil {
		return
	}
	if s.closed.Swap(true) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.started.Load() {
		<-s.done
	}
}

func (s *Session) Snapshot(nowUTC time.Time) Snapshot {
	if s == nil {
		return Snapshot{State: StateDisconnected}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		State:       s.state,
		Port:        s.portPath,
		Baud:        s.cfg.Baud,
		LastError:   s.lastErr,
		BytesIn:     s.bytesIn,
		FramesIn:    s.framesIn,
		SentencesIn: s.sentencesIn,
		Dropped:     s.dropped,
		FramesOut:   s.framesOut,
	}
	if !s.lastSeen.IsZero() {
		out.LastSeenUTC = s.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// Send writes one frame to the port. Writes are serialized and attempted
// at most once; a failed write surfaces the error and does not retry.
func (s *Session) Send(frame [protocol.FrameSize]byte) error {
	if s == nil {
		return fmt.Errorf("link session is nil")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	port := s.port
	state := s.state
	s.mu.RUnlock()
	if state != StateConnected || port == nil {
		return ErrNotConnected
	}

	if _, err := port.Write(frame[:]); err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("link write: %w", err)
	}
	s.mu.Lock()
	s.framesOut++
	s.mu.Unlock()
	return nil
}

// SendPIDGain transmits new gains for one axis. The controller echoes the
// values back as a set/ack frame with the same message ID.
func (s *Session) SendPIDGain(axis protocol.PIDAxis, p, i, d float64) error {
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint32(payload[0:4], math.Float32bits(float32(p)))
	binary.LittleEndian.PutUint32(payload[4:8], math.Float32bits(float32(i)))
	binary.LittleEndian.PutUint32(payload[8:12], math.Float32bits(float32(d)))
	return s.Send(protocol.EncodeFrame(byte(axis), payload))
}

// RequestPIDGains asks the controller to report all axis gains. Outbound
// 0x10 is the request; the replies arrive as per-axis ack frames.
func (s *Session) RequestPIDGains() error {
	return s.Send(protocol.EncodeFrame(protocol.MsgAHRS, nil))
}

func (s *Session) run(ctx context.Context) {
	attempts := 0
	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected, "")
			return
		}

		s.setState(StateConnecting, "")
		port, path, err := s.open()
		if err != nil {
			attempts++
			if attempts >= s.cfg.MaxReconnects {
				s.setState(StateDisconnected, err.Error())
				return
			}
			s.setLastErr(err.Error())
			if !sleepCtx(ctx, s.cfg.ReconnectBackoff) {
				s.setState(StateDisconnected, "")
				return
			}
			continue
		}
		attempts = 0

		s.mu.Lock()
		s.port = port
		s.portPath = path
		s.mu.Unlock()
		s.setState(StateConnected, "")

		err = s.readFrom(ctx, port)

		s.mu.Lock()
		s.port = nil
		s.mu.Unlock()
		_ = port.Close()

		if ctx.Err() != nil {
			s.setState(StateDisconnected, "")
			return
		}
		if err != nil {
			s.setLastErr(err.Error())
		}
		// A lost connection does not count against the budget; the full
		// MaxReconnects open rounds follow every connection loss.
		if !sleepCtx(ctx, s.cfg.ReconnectBackoff) {
			s.setState(StateDisconnected, "")
			return
		}
	}
}

// open tries the configured port first, then every enumerated candidate.
func (s *Session) open() (io.ReadWriteCloser, string, error) {
	var candidates []string
	if s.cfg.Port != "" {
		candidates = append(candidates, s.cfg.Port)
	}
	for _, p := range s.listPorts() {
		if p != s.cfg.Port {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, "", fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, path := range candidates {
		port, err := s.openPort(path, s.cfg.Baud, s.cfg.ReadTimeout)
		if err == nil {
			return port, path, nil
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("open %d port(s): %w", len(candidates), lastErr)
}

// readFrom pumps the port into the demuxer until a read error or cancel.
// The demuxer is owned by this goroutine only.
func (s *Session) readFrom(ctx context.Context, port io.Reader) error {
	var demux protocol.Demuxer
	buf := make([]byte, 256)

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := port.Read(buf)
		if n > 0 {
			s.handleChunk(&demux, buf[:n])
		}
		if err != nil {
			// Timed-out reads surface as EOF; keep polling.
			if errors.Is(err, io.EOF) {
				continue
			}
			return err
		}
	}
}

func (s *Session) handleChunk(demux *protocol.Demuxer, chunk []byte) {
	now := time.Now().UTC()
	msgs := demux.Feed(chunk)

	s.mu.Lock()
	s.bytesIn += uint64(len(chunk))
	s.lastSeen = now
	s.mu.Unlock()

	for _, m := range msgs {
		ev := protocol.Dispatch(m, now)

		s.mu.Lock()
		switch {
		case ev.Kind == protocol.EventDropped:
			s.dropped++
		case m.Kind == protocol.KindSentence:
			s.sentencesIn++
		default:
			s.framesIn++
		}
		s.mu.Unlock()

		if ev.Kind != protocol.EventDropped {
			s.onEvent(ev)
		}
	}
}

func (s *Session) setState(state, lastErr string) {
	s.mu.Lock()
	s.state = state
	if lastErr != "" {
		s.lastErr = lastErr
	} else if state == StateConnected || state == StateConnecting {
		s.lastErr = ""
	}
	s.mu.Unlock()
}

func (s *Session) setLastErr(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
