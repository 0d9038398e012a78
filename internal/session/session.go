// Package session manages a single peer connection after it's been dialed:
// the state machine, the serialized writer, and the read loop that keeps
// ping/pong alive without the caller's involvement. It generalizes the
// teacher's observer.ObserveNode/runMessageLoop pair into a reusable type
// instead of one long function tied to a *database.DB.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitlab-net/bitlab/internal/codec"
	"github.com/bitlab-net/bitlab/internal/handshake"
	"github.com/bitlab-net/bitlab/internal/logger"
	"github.com/bitlab-net/bitlab/internal/metrics"
)

// State is a PeerSession's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Inbound is one parsed frame delivered to a session's message handler.
type Inbound struct {
	Command string
	Payload []byte
}

// Handler is invoked by the read loop for every inbound application frame
// (everything except ping, which the session answers itself, and pong,
// which the session consumes to measure round-trip latency).
type Handler func(sess *PeerSession, msg Inbound)

// Config controls how a PeerSession behaves.
type Config struct {
	Magic             uint32
	UserAgent         string
	StartHeight       int32
	Services          uint64
	HandshakeTimeout  time.Duration
	IdleReadTimeout   time.Duration
	PingInterval      time.Duration
	MaxFrameBytes     int
}

// PeerSession wraps one TCP connection to a peer plus the state needed to
// serialize writes and track handshake/liveness.
type PeerSession struct {
	conn net.Conn
	cfg  Config
	log  zerolog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	state       State
	peerVersion codec.VersionPayload
	// handshakeRemainder holds bytes the handshake read but didn't consume
	// (a peer coalescing post-verack traffic into the same segment). Serve
	// seeds its parse buffer with this instead of starting empty, so those
	// frames aren't silently dropped.
	handshakeRemainder []byte

	pendingPingMu    sync.Mutex
	pendingPingAt    time.Time
	pendingPingNonce uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps conn in a PeerSession; the caller still must call Handshake and
// then Serve to bring it up.
func New(conn net.Conn, cfg Config) *PeerSession {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.IdleReadTimeout <= 0 {
		cfg.IdleReadTimeout = 10 * time.Minute
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 60 * time.Second
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = codec.DefaultMaxFrameBytes
	}

	host, port := splitAddr(conn.RemoteAddr())
	return &PeerSession{
		conn:   conn,
		cfg:    cfg,
		log:    logger.SessionLogger(host, port),
		state:  StateConnecting,
		closed: make(chan struct{}),
	}
}

// State returns the session's current lifecycle state.
func (s *PeerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerVersion returns the version payload learned during the handshake.
// Only meaningful once State() is StateReady or later.
func (s *PeerSession) PeerVersion() codec.VersionPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerVersion
}

// RemoteAddr returns the underlying connection's remote address.
func (s *PeerSession) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Handshake runs the version/verack exchange and transitions the session to
// StateReady on success, or closes the connection and returns an error.
func (s *PeerSession) Handshake() error {
	s.setState(StateHandshaking)
	metrics.HandshakeAttempts.Inc()
	start := time.Now()

	eng := handshake.Engine{
		Magic:       s.cfg.Magic,
		UserAgent:   s.cfg.UserAgent,
		StartHeight: s.cfg.StartHeight,
		Services:    s.cfg.Services,
		Timeout:     s.cfg.HandshakeTimeout,
	}
	res, err := eng.Run(s.conn)
	if err != nil {
		reason := "unknown"
		var hsErr *handshake.Error
		if asHandshakeErr(err, &hsErr) {
			reason = string(hsErr.Reason)
		}
		metrics.HandshakeFailures.WithLabelValues(reason).Inc()
		s.Close()
		return err
	}

	metrics.HandshakeDuration.Observe(time.Since(start).Seconds())
	s.mu.Lock()
	s.peerVersion = res.PeerVersion
	s.handshakeRemainder = res.Remainder
	s.state = StateReady
	s.mu.Unlock()
	metrics.SessionsActive.Inc()
	s.log.Info().Str("user_agent", res.PeerVersion.UserAgent).Msg("session ready")
	return nil
}

func asHandshakeErr(err error, target **handshake.Error) bool {
	he, ok := err.(*handshake.Error)
	if ok {
		*target = he
	}
	return ok
}

func (s *PeerSession) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Send writes one pre-built frame to the peer, serialized against any
// concurrent sender (the read loop's own pong replies included).
func (s *PeerSession) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// Serve runs the read loop until the connection closes or an unrecoverable
// parse error occurs. It answers ping with pong and measures pong latency
// automatically; everything else is handed to handle. Serve blocks until
// the session ends, the session-layer analogue of the teacher's
// runMessageLoop.
func (s *PeerSession) Serve(handle Handler) error {
	defer s.Close()

	r := bufio.NewReader(s.conn)
	s.mu.Lock()
	buf := s.handshakeRemainder
	s.handshakeRemainder = nil
	s.mu.Unlock()
	if buf == nil {
		buf = make([]byte, 0, 4096)
	}
	chunk := make([]byte, 64*1024)

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-s.closed:
				return
			case <-pingTicker.C:
				s.sendPing()
			}
		}
	}()

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleReadTimeout))

		res := codec.Parse(buf, s.cfg.Magic, s.cfg.MaxFrameBytes)
		switch res.Status {
		case codec.StatusFrame:
			buf = res.Remainder
			metrics.FramesReceived.WithLabelValues(res.Command).Inc()
			s.dispatch(res.Command, res.Payload, handle)
			continue
		case codec.StatusError:
			kind := classifyParseErr(res.Err)
			metrics.ParseErrors.WithLabelValues(kind).Inc()
			if kind == "oversized" {
				metrics.OversizedFrames.Inc()
			}
			return res.Err
		case codec.StatusIncomplete:
			n, err := r.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if err != nil {
				return err
			}
		}
	}
}

func classifyParseErr(err error) string {
	switch {
	case errors.Is(err, codec.ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, codec.ErrBadChecksum):
		return "bad_checksum"
	case errors.Is(err, codec.ErrOversizedFrame):
		return "oversized"
	default:
		return "other"
	}
}

func (s *PeerSession) dispatch(command string, payload []byte, handle Handler) {
	switch command {
	case "ping":
		frame, err := codec.Pong(s.cfg.Magic, mustNonce(payload))
		if err == nil {
			if werr := s.Send(frame); werr == nil {
				metrics.FramesSent.WithLabelValues("pong").Inc()
			}
		}
	case "pong":
		s.recordPong(payload)
	default:
		if handle != nil {
			handle(s, Inbound{Command: command, Payload: payload})
		}
	}
}

func mustNonce(payload []byte) uint64 {
	nonce, err := codec.PingNonce(payload)
	if err != nil {
		return 0
	}
	return nonce
}

func (s *PeerSession) sendPing() {
	frame, nonce, err := codec.Ping(s.cfg.Magic)
	if err != nil {
		return
	}
	s.pendingPingMu.Lock()
	s.pendingPingAt = time.Now()
	s.pendingPingNonce = nonce
	s.pendingPingMu.Unlock()

	if err := s.Send(frame); err == nil {
		metrics.FramesSent.WithLabelValues("ping").Inc()
	}
}

func (s *PeerSession) recordPong(payload []byte) {
	nonce, err := codec.PingNonce(payload)
	if err != nil {
		return
	}
	s.pendingPingMu.Lock()
	defer s.pendingPingMu.Unlock()
	if s.pendingPingNonce != nonce || s.pendingPingAt.IsZero() {
		return
	}
	metrics.PingRoundTrip.Observe(float64(time.Since(s.pendingPingAt).Milliseconds()))
	s.pendingPingAt = time.Time{}
}

// Close shuts down the underlying connection. Safe to call more than once
// and from multiple goroutines.
func (s *PeerSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasReady := s.state == StateReady
		s.state = StateClosed
		s.mu.Unlock()
		if wasReady {
			metrics.SessionsActive.Dec()
		}
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

func splitAddr(addr net.Addr) (string, uint16) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String(), 0
	}
	return tcpAddr.IP.String(), uint16(tcpAddr.Port)
}
