// Package handshake performs the version/verack exchange that brings a raw
// TCP connection up to a usable peer session, the same sequence the teacher
// repo's observer.doHandshake runs inline before starting its message loop.
// Here it is pulled out into its own engine so session and manager don't
// need to know the handshake's internal steps.
package handshake

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bitlab-net/bitlab/internal/codec"
)

// FailureReason classifies why a handshake did not complete.
type FailureReason string

const (
	ReasonTimeout    FailureReason = "timeout"
	ReasonPeerClosed FailureReason = "peer_closed"
	ReasonParse      FailureReason = "parse"
	ReasonWrite      FailureReason = "write"
	ReasonProtocol   FailureReason = "protocol"
)

// Error wraps a failed handshake with the reason a caller should report to
// metrics.HandshakeFailures.
type Error struct {
	Reason FailureReason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("handshake: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result carries what the handshake learned about the remote peer.
type Result struct {
	PeerVersion codec.VersionPayload
	// Remainder is whatever bytes were read past the verack frame but not
	// yet parsed — a peer that coalesces post-handshake traffic (Bitcoin
	// Core sends sendheaders/sendcmpct/ping/feefilter right after verack)
	// lands those bytes in the same read as the frame we were waiting for.
	// The caller must seed its own parse buffer with this instead of
	// starting empty, or those frames are silently lost.
	Remainder []byte
}

// Engine runs the version/verack exchange against one connection.
type Engine struct {
	Magic       uint32
	UserAgent   string
	StartHeight int32
	Services    uint64
	Timeout     time.Duration
}

// Run performs the handshake: send version, read the peer's version, send
// verack, read the peer's verack. Both directions proceed independently of
// message ordering the way real nodes interleave them; this client, like
// the teacher's doHandshake, performs them sequentially for simplicity.
func (e Engine) Run(conn net.Conn) (Result, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return Result{}, &Error{Reason: ReasonWrite, Err: err}
	}
	defer conn.SetDeadline(time.Time{})

	remoteIP, remotePort := splitAddr(conn.RemoteAddr())
	versionPayload, err := codec.NewVersionPayload(remoteIP, remotePort, e.Services, e.UserAgent, e.StartHeight)
	if err != nil {
		return Result{}, &Error{Reason: ReasonProtocol, Err: err}
	}

	versionFrame, err := codec.Version(e.Magic, versionPayload)
	if err != nil {
		return Result{}, &Error{Reason: ReasonProtocol, Err: err}
	}
	if _, err := conn.Write(versionFrame); err != nil {
		return Result{}, classifyIOErr(ReasonWrite, err)
	}

	// One reader and one buffer carry across both reads below: a peer may
	// pack version+verack into a single segment, or coalesce post-verack
	// traffic (sendheaders/sendcmpct/ping/feefilter) into the same read
	// that delivers verack. Discarding the buffer between reads would lose
	// those bytes, so readExpected returns whatever it didn't consume and
	// the next call resumes from there.
	r := bufio.NewReader(conn)
	var buf []byte

	peerVersionPayload, buf, err := readExpected(r, buf, e.Magic, "version")
	if err != nil {
		return Result{}, err
	}
	peerVersion, err := codec.DecodeVersionPayload(peerVersionPayload)
	if err != nil {
		return Result{}, &Error{Reason: ReasonParse, Err: err}
	}

	verackFrame, err := codec.Verack(e.Magic)
	if err != nil {
		return Result{}, &Error{Reason: ReasonProtocol, Err: err}
	}
	if _, err := conn.Write(verackFrame); err != nil {
		return Result{}, classifyIOErr(ReasonWrite, err)
	}

	_, buf, err = readExpected(r, buf, e.Magic, "verack")
	if err != nil {
		return Result{}, err
	}

	return Result{PeerVersion: peerVersion, Remainder: buf}, nil
}

// readExpected reads frames off r until it sees one with the wanted
// command, discarding any out-of-order messages a peer sends early (some
// nodes interleave a ping before verack). It returns the matched frame's
// payload plus whatever bytes past it weren't consumed, so the caller can
// carry them into the next call (or into the session's read loop) instead
// of dropping them.
func readExpected(r *bufio.Reader, buf []byte, magic uint32, want string) ([]byte, []byte, error) {
	chunk := make([]byte, 4096)

	for {
		res := codec.Parse(buf, magic, codec.DefaultMaxFrameBytes)
		switch res.Status {
		case codec.StatusFrame:
			buf = res.Remainder
			if res.Command == want {
				return res.Payload, buf, nil
			}
			continue
		case codec.StatusError:
			return nil, nil, &Error{Reason: ReasonParse, Err: res.Err}
		case codec.StatusIncomplete:
			n, err := r.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if err != nil {
				return nil, nil, classifyIOErr(ReasonPeerClosed, err)
			}
		}
	}
}

func classifyIOErr(fallback FailureReason, err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Reason: ReasonTimeout, Err: err}
	}
	return &Error{Reason: fallback, Err: err}
}

func splitAddr(addr net.Addr) (net.IP, uint16) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return net.IPv4zero, 0
	}
	return tcpAddr.IP, uint16(tcpAddr.Port)
}
