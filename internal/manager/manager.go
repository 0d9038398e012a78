// Package manager owns the table of live peer sessions: connecting,
// broadcasting, listing, and disconnecting them. It generalizes the
// teacher's observer.PeerManager (which tracked nodes by country for
// regional-discovery bookkeeping) into a connection-table manager over
// session.PeerSession, with serialized mutations the same way PeerManager
// guards its maps with a single RWMutex.
package manager

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bitlab-net/bitlab/internal/codec"
	"github.com/bitlab-net/bitlab/internal/logger"
	"github.com/bitlab-net/bitlab/internal/metrics"
	"github.com/bitlab-net/bitlab/internal/session"
)

// DialTimeout bounds how long Connect waits for the TCP handshake.
const DialTimeout = 15 * time.Second

// Config is the session configuration template the manager stamps onto
// every connection it makes.
type Config struct {
	Magic            uint32
	UserAgent        string
	StartHeight      int32
	Services         uint64
	HandshakeTimeout time.Duration
	MaxFrameBytes    int
	// AutoRequestInventory, when true, makes the manager answer inv
	// announcements with getdata for any hash it hasn't seen before,
	// deduplicated the way the teacher's dedup.go guards seenTxs/seenBlocks.
	AutoRequestInventory bool
	SeenExpiry           time.Duration
}

// SessionManager tracks every session this client has open and dispatches
// inbound frames to per-command handlers.
type SessionManager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*session.PeerSession

	seenMu sync.RWMutex
	seenTx map[[32]byte]time.Time
	seenBk map[[32]byte]time.Time

	handlersMu sync.RWMutex
	handlers   map[string][]func(*session.PeerSession, codec.InvVector)

	addrHandlersMu sync.RWMutex
	addrHandlers   []func(*session.PeerSession, codec.AddrEntry)
}

// New creates an empty SessionManager.
func New(cfg Config) *SessionManager {
	if cfg.SeenExpiry <= 0 {
		cfg.SeenExpiry = 10 * time.Minute
	}
	return &SessionManager{
		cfg:      cfg,
		sessions: make(map[string]*session.PeerSession),
		seenTx:   make(map[[32]byte]time.Time),
		seenBk:   make(map[[32]byte]time.Time),
		handlers: make(map[string][]func(*session.PeerSession, codec.InvVector)),
	}
}

// Connect dials addr, runs the handshake, and if successful registers the
// session under addr and starts its read loop in the background.
func (m *SessionManager) Connect(ctx context.Context, addr string) (*session.PeerSession, error) {
	metrics.SessionConnects.Inc()

	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("manager: dial %s: %w", addr, err)
	}

	sess := session.New(conn, session.Config{
		Magic:            m.cfg.Magic,
		UserAgent:        m.cfg.UserAgent,
		StartHeight:      m.cfg.StartHeight,
		Services:         m.cfg.Services,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		MaxFrameBytes:    m.cfg.MaxFrameBytes,
	})

	if err := sess.Handshake(); err != nil {
		metrics.SessionDisconnects.WithLabelValues("handshake_failed").Inc()
		return nil, fmt.Errorf("manager: handshake with %s: %w", addr, err)
	}

	m.mu.Lock()
	old, hadOld := m.sessions[addr]
	m.sessions[addr] = sess
	m.mu.Unlock()
	if hadOld {
		old.Close()
	}

	go func() {
		err := sess.Serve(m.dispatch)
		cause := "eof"
		if err != nil {
			cause = "error"
		}
		metrics.SessionDisconnects.WithLabelValues(cause).Inc()
		m.mu.Lock()
		if m.sessions[addr] == sess {
			delete(m.sessions, addr)
		}
		m.mu.Unlock()
		logger.Log.Info().Str("addr", addr).Err(err).Msg("session ended")
	}()

	return sess, nil
}

// Disconnect closes and unregisters the session for addr, if any.
func (m *SessionManager) Disconnect(addr string) error {
	m.mu.Lock()
	sess, ok := m.sessions[addr]
	delete(m.sessions, addr)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("manager: no session for %s", addr)
	}
	return sess.Close()
}

// List returns the addresses of every currently registered session.
func (m *SessionManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for addr := range m.sessions {
		out = append(out, addr)
	}
	return out
}

// Get returns the session registered under addr, if any.
func (m *SessionManager) Get(addr string) (*session.PeerSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[addr]
	return sess, ok
}

// Magic returns the network magic this manager's sessions are configured
// with, so callers can build frames without threading config through.
func (m *SessionManager) Magic() uint32 {
	return m.cfg.Magic
}

// SendTo builds a frame via build (passed this manager's magic) and sends
// it to the session registered under addr.
func (m *SessionManager) SendTo(addr string, build func(magic uint32) ([]byte, error)) error {
	sess, ok := m.Get(addr)
	if !ok {
		return fmt.Errorf("manager: no session for %s", addr)
	}
	frame, err := build(m.cfg.Magic)
	if err != nil {
		return fmt.Errorf("manager: build frame: %w", err)
	}
	return sess.Send(frame)
}

// Broadcast sends frame to every session, collecting per-peer failures
// without letting one bad peer abort delivery to the rest.
func (m *SessionManager) Broadcast(frame []byte) map[string]error {
	m.mu.RLock()
	targets := make(map[string]*session.PeerSession, len(m.sessions))
	for addr, sess := range m.sessions {
		targets[addr] = sess
	}
	m.mu.RUnlock()

	failures := make(map[string]error)
	var failuresMu sync.Mutex
	var wg sync.WaitGroup
	for addr, sess := range targets {
		wg.Add(1)
		go func(addr string, sess *session.PeerSession) {
			defer wg.Done()
			if err := sess.Send(frame); err != nil {
				metrics.BroadcastFailures.Inc()
				failuresMu.Lock()
				failures[addr] = err
				failuresMu.Unlock()
			}
		}(addr, sess)
	}
	wg.Wait()
	return failures
}

// OnInventory registers a handler invoked whenever an inv vector of the
// given inventory kind name ("tx", or "block" for block, filtered_block and
// cmpct_block entries) survives deduplication. Handlers
// run synchronously on the session's read-loop goroutine.
func (m *SessionManager) OnInventory(kind string, handler func(*session.PeerSession, codec.InvVector)) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[kind] = append(m.handlers[kind], handler)
}

func (m *SessionManager) dispatch(sess *session.PeerSession, msg session.Inbound) {
	if msg.Command == "addr" {
		m.dispatchAddr(sess, msg.Payload)
		return
	}
	if msg.Command != "inv" {
		return
	}
	vectors, err := codec.DecodeInventory(msg.Payload)
	if err != nil {
		return
	}

	for _, v := range vectors {
		kindName, fresh := m.markSeen(v)
		if !fresh {
			metrics.InvDeduplicated.WithLabelValues(kindName).Inc()
			continue
		}

		if m.cfg.AutoRequestInventory {
			hashHex := fmt.Sprintf("%x", codec.ReverseBytes(v.Hash[:]))
			frame, err := codec.GetData(m.cfg.Magic, v.Kind, hashHex)
			if err == nil {
				sess.Send(frame)
			}
		}

		m.handlersMu.RLock()
		for _, h := range m.handlers[kindName] {
			h(sess, v)
		}
		m.handlersMu.RUnlock()
	}
}

// OnAddr registers a handler invoked for every decoded entry of an inbound
// addr message (typically the response to a getaddr this client sent).
func (m *SessionManager) OnAddr(handler func(*session.PeerSession, codec.AddrEntry)) {
	m.addrHandlersMu.Lock()
	defer m.addrHandlersMu.Unlock()
	m.addrHandlers = append(m.addrHandlers, handler)
}

func (m *SessionManager) dispatchAddr(sess *session.PeerSession, payload []byte) {
	entries, err := codec.DecodeAddr(payload)
	if err != nil {
		return
	}
	m.addrHandlersMu.RLock()
	defer m.addrHandlersMu.RUnlock()
	for _, entry := range entries {
		for _, h := range m.addrHandlers {
			h(sess, entry)
		}
	}
}

// markSeen returns the inventory kind's name and whether this is the first
// time this hash has been observed, mirroring the teacher's
// MarkSeenTx/MarkSeenBlock pair collapsed onto one entry point keyed by kind.
func (m *SessionManager) markSeen(v codec.InvVector) (string, bool) {
	var table map[[32]byte]time.Time
	var kindName string
	switch v.Kind {
	case codec.InvTx:
		table = m.seenTx
		kindName = "tx"
	case codec.InvBlock, codec.InvFilteredBlock, codec.InvCmpctBlock:
		table = m.seenBk
		kindName = "block"
	default:
		return "unknown", true
	}

	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	if _, exists := table[v.Hash]; exists {
		return kindName, false
	}
	table[v.Hash] = time.Now()
	return kindName, true
}

// CleanupSeen evicts dedup entries older than cfg.SeenExpiry, the
// session-layer analogue of the teacher's CleanupSeenMaps.
func (m *SessionManager) CleanupSeen() {
	cutoff := time.Now().Add(-m.cfg.SeenExpiry)

	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	for h, t := range m.seenTx {
		if t.Before(cutoff) {
			delete(m.seenTx, h)
		}
	}
	for h, t := range m.seenBk {
		if t.Before(cutoff) {
			delete(m.seenBk, h)
		}
	}
	metrics.SeenMapSize.WithLabelValues("tx").Set(float64(len(m.seenTx)))
	metrics.SeenMapSize.WithLabelValues("block").Set(float64(len(m.seenBk)))
}

// StartCleanupRoutine runs CleanupSeen on a fixed interval until ctx is
// cancelled.
func (m *SessionManager) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupSeen()
			}
		}
	}()
}
