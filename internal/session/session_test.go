package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitlab-net/bitlab/internal/codec"
)

func pipeConns(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverConn := <-accepted
	return clientConn, serverConn
}

func TestSessionHandshakeAndServe(t *testing.T) {
	clientConn, serverConn := pipeConns(t)

	cfgA := Config{Magic: codec.MagicMainnet, UserAgent: "/A/", HandshakeTimeout: 2 * time.Second, PingInterval: time.Hour}
	cfgB := Config{Magic: codec.MagicMainnet, UserAgent: "/B/", HandshakeTimeout: 2 * time.Second, PingInterval: time.Hour}

	sessA := New(clientConn, cfgA)
	sessB := New(serverConn, cfgB)

	errCh := make(chan error, 1)
	go func() { errCh <- sessB.Handshake() }()

	require.NoError(t, sessA.Handshake())
	require.NoError(t, <-errCh)

	require.Equal(t, StateReady, sessA.State())
	require.Equal(t, StateReady, sessB.State())
	require.Equal(t, "/B/", sessA.PeerVersion().UserAgent)

	received := make(chan Inbound, 1)
	go sessB.Serve(func(sess *PeerSession, msg Inbound) {
		received <- msg
	})

	frame, err := codec.GetAddr(codec.MagicMainnet)
	require.NoError(t, err)
	require.NoError(t, sessA.Send(frame))

	select {
	case msg := <-received:
		require.Equal(t, "getaddr", msg.Command)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for getaddr")
	}

	sessA.Close()
	sessB.Close()
}

func TestSessionPingPong(t *testing.T) {
	clientConn, serverConn := pipeConns(t)
	defer clientConn.Close()
	defer serverConn.Close()

	cfgA := Config{Magic: codec.MagicMainnet, UserAgent: "/A/", HandshakeTimeout: 2 * time.Second, PingInterval: time.Hour}
	cfgB := Config{Magic: codec.MagicMainnet, UserAgent: "/B/", HandshakeTimeout: 2 * time.Second, PingInterval: time.Hour}

	sessA := New(clientConn, cfgA)
	sessB := New(serverConn, cfgB)

	errCh := make(chan error, 1)
	go func() { errCh <- sessB.Handshake() }()
	require.NoError(t, sessA.Handshake())
	require.NoError(t, <-errCh)

	go sessB.Serve(nil)

	frame, nonce, err := codec.Ping(codec.MagicMainnet)
	require.NoError(t, err)
	require.NoError(t, sessA.Send(frame))

	// Read sessB's reply straight off A's side of the wire: it must be a
	// pong echoing the ping's nonce.
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var buf []byte
	chunk := make([]byte, 1024)
	for {
		res := codec.Parse(buf, codec.MagicMainnet, codec.DefaultMaxFrameBytes)
		if res.Status == codec.StatusFrame {
			require.Equal(t, "pong", res.Command)
			gotNonce, err := codec.PingNonce(res.Payload)
			require.NoError(t, err)
			require.Equal(t, nonce, gotNonce)
			break
		}
		require.Equal(t, codec.StatusIncomplete, res.Status)
		n, err := clientConn.Read(chunk)
		require.NoError(t, err)
		buf = append(buf, chunk[:n]...)
	}
}

// TestServeConsumesHandshakeRemainder guards against the frame-loss bug
// where bytes a peer coalesces behind its verack (sendheaders/sendcmpct/
// ping/feefilter, the way Bitcoin Core bursts them) land in the handshake's
// read but never reach Serve's parser. Handshake stashes whatever it didn't
// consume in handshakeRemainder; Serve must seed its buffer from it instead
// of starting empty.
func TestServeConsumesHandshakeRemainder(t *testing.T) {
	clientConn, serverConn := pipeConns(t)
	defer clientConn.Close()
	defer serverConn.Close()

	sess := New(serverConn, Config{Magic: codec.MagicMainnet, UserAgent: "/B/", PingInterval: time.Hour})
	sess.mu.Lock()
	sess.state = StateReady
	sess.mu.Unlock()

	frame, err := codec.GetAddr(codec.MagicMainnet)
	require.NoError(t, err)
	sess.mu.Lock()
	sess.handshakeRemainder = frame
	sess.mu.Unlock()

	received := make(chan Inbound, 1)
	go sess.Serve(func(_ *PeerSession, msg Inbound) { received <- msg })

	select {
	case msg := <-received:
		require.Equal(t, "getaddr", msg.Command)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame seeded via handshakeRemainder")
	}
}

func TestSessionStateTransitionsOnFailedHandshake(t *testing.T) {
	clientConn, serverConn := pipeConns(t)
	defer serverConn.Close()

	cfg := Config{Magic: codec.MagicMainnet, UserAgent: "/A/", HandshakeTimeout: 50 * time.Millisecond}
	sess := New(clientConn, cfg)

	err := sess.Handshake()
	require.Error(t, err)
	require.Equal(t, StateClosed, sess.State())
}
