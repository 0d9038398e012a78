package handshake

import (
	"bufio"
	"bytes"
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

	var serverConn net.Conn
	accepted := make(chan struct{})
	go func() {
		serverConn, _ = ln.Accept()
		close(accepted)
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	<-accepted
	return clientConn, serverConn
}

func TestHandshakeSuccess(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	engineA := Engine{Magic: codec.MagicMainnet, UserAgent: "/BitLab:0.1/", Timeout: 2 * time.Second}
	engineB := Engine{Magic: codec.MagicMainnet, UserAgent: "/Other:0.1/", Timeout: 2 * time.Second}

	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := engineB.Run(server)
		resultCh <- r
		errCh <- err
	}()

	res, err := engineA.Run(client)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	peerRes := <-resultCh

	require.Equal(t, "/Other:0.1/", res.PeerVersion.UserAgent)
	require.Equal(t, "/BitLab:0.1/", peerRes.PeerVersion.UserAgent)
}

func TestHandshakeTimeout(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	engine := Engine{Magic: codec.MagicMainnet, UserAgent: "/BitLab:0.1/", Timeout: 50 * time.Millisecond}
	_, err := engine.Run(client)
	require.Error(t, err)

	var hsErr *Error
	require.ErrorAs(t, err, &hsErr)
	require.Equal(t, ReasonTimeout, hsErr.Reason)
}

// TestReadExpectedReturnsUnconsumedRemainder is the regression case for a
// peer that coalesces post-verack traffic (sendheaders/sendcmpct/ping/
// feefilter, the way Bitcoin Core bursts them) into the same read as the
// frame readExpected was waiting for: those trailing bytes must come back
// as a remainder, not be silently dropped.
func TestReadExpectedReturnsUnconsumedRemainder(t *testing.T) {
	verackFrame, err := codec.Verack(codec.MagicMainnet)
	require.NoError(t, err)
	pingFrame, nonce, err := codec.Ping(codec.MagicMainnet)
	require.NoError(t, err)

	data := append(append([]byte{}, verackFrame...), pingFrame...)
	r := bufio.NewReader(bytes.NewReader(data))

	payload, remainder, err := readExpected(r, nil, codec.MagicMainnet, "verack")
	require.NoError(t, err)
	require.Empty(t, payload)

	parsed := codec.Parse(remainder, codec.MagicMainnet, codec.DefaultMaxFrameBytes)
	require.Equal(t, codec.StatusFrame, parsed.Status)
	require.Equal(t, "ping", parsed.Command)
	gotNonce, err := codec.PingNonce(parsed.Payload)
	require.NoError(t, err)
	require.Equal(t, nonce, gotNonce)
}

// TestHandshakeCarriesRemainderAcrossReads exercises the same scenario
// through the full Engine.Run, with version and verack arriving in one
// segment behind each other: the version→verack hop must reuse the leftover
// buffer instead of discarding it, or the second readExpected call blocks
// until the timeout.
func TestHandshakeCarriesRemainderAcrossReads(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	engineA := Engine{Magic: codec.MagicMainnet, UserAgent: "/BitLab:0.1/", Timeout: 2 * time.Second}

	peerVersion, err := codec.NewVersionPayload(net.IPv4(127, 0, 0, 1), 8333, 0, "/Other:0.1/", 0)
	require.NoError(t, err)
	versionFrame, err := codec.Version(codec.MagicMainnet, peerVersion)
	require.NoError(t, err)
	verackFrame, err := codec.Verack(codec.MagicMainnet)
	require.NoError(t, err)

	// The peer writes version and verack with a single Write, so both frames
	// land in one segment.
	errCh := make(chan error, 1)
	go func() {
		_, err := server.Write(append(append([]byte{}, versionFrame...), verackFrame...))
		errCh <- err
	}()

	res, err := engineA.Run(client)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	require.Equal(t, "/Other:0.1/", res.PeerVersion.UserAgent)
}

func TestHandshakePeerClosed(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()

	server.Close()

	engine := Engine{Magic: codec.MagicMainnet, UserAgent: "/BitLab:0.1/", Timeout: 2 * time.Second}
	_, err := engine.Run(client)
	require.Error(t, err)

	var hsErr *Error
	require.ErrorAs(t, err, &hsErr)
}
