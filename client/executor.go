package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/holepunch/punchtun/nat"
	"github.com/holepunch/punchtun/protocol"
)

// Executor drives one server-initiated traversal session: it owns the
// control connection to the rendezvous server and the client's current UDP
// socket/peer channel, and dispatches each operation the server sends down
// the control channel to the matching handler below. Grounded on §4.6.
type Executor struct {
	serverTCPAddr string
	serverUDPAddr string
	serverAddr    *net.UDPAddr
	localID       string
	remoteID      string

	codec   *protocol.Codec
	udpConn *net.UDPConn
	channel *nat.Channel
}

// NewExecutor returns an executor for one traversal attempt against
// serverAddr ("host:port" — operationally always protocol.Port, shared by
// TCP and UDP), pairing localID with remoteID.
func NewExecutor(serverAddr, localID, remoteID string) *Executor {
	return &Executor{serverTCPAddr: serverAddr, serverUDPAddr: serverAddr, localID: localID, remoteID: remoteID}
}

// Connect dials the server, announces the pair, and executes operations
// until FINISH, returning the established peer channel. Any transport
// error at any point aborts the whole session; the caller is expected to
// call Connect again from scratch, per §4.6.
func (e *Executor) Connect(ctx context.Context) (*nat.Channel, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", e.serverUDPAddr)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindTransport, err, "resolve server address")
	}
	e.serverAddr = serverAddr

	conn, err := net.Dial("tcp", e.serverTCPAddr)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindTransport, err, "dial control connection")
	}
	defer conn.Close()

	e.codec = protocol.NewCodec(conn)
	conn.SetDeadline(time.Now().Add(protocol.OperationTimeout))
	if err := e.codec.WriteLine(e.localID); err != nil {
		return nil, err
	}
	if err := e.codec.WriteLine(e.remoteID); err != nil {
		return nil, err
	}

	for {
		conn.SetDeadline(time.Now().Add(protocol.OperationTimeout))
		op, err := e.codec.ReadOperation()
		if err != nil {
			return nil, err
		}

		if op == protocol.OpFinish {
			return e.channel, nil
		}

		result, err := e.dispatch(ctx, op)
		if err != nil {
			return nil, err
		}
		conn.SetDeadline(time.Now().Add(protocol.OperationTimeout))
		if err := e.codec.WriteResult(result); err != nil {
			return nil, err
		}
	}
}

func (e *Executor) dispatch(ctx context.Context, op protocol.Operation) (protocol.Result, error) {
	switch op {
	case protocol.OpBind:
		return e.doBind()
	case protocol.OpAnnounceAddr:
		return e.doAnnounceAddr()
	case protocol.OpUpdateAddr:
		return e.doUpdateAddr(ctx)
	case protocol.OpSendHello:
		return e.doSendHello()
	case protocol.OpWaitHello:
		return e.doWaitHello()
	default:
		return "", protocol.Wrap(protocol.KindProtocol, nil, fmt.Sprintf("unknown operation %q", op))
	}
}

// doBind closes any prior UDP socket, binds a fresh ephemeral port, and
// rebuilds the peer channel without a remote — ANNOUNCE_ADDR/UPDATE_ADDR
// learn it next. §3 invariant: the client holds at most one UDP socket
// attached to its current peer channel at any time.
func (e *Executor) doBind() (protocol.Result, error) {
	if e.channel != nil {
		e.channel.Close()
		e.channel = nil
	}
	e.udpConn = nil

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return "", protocol.Wrap(protocol.KindTransport, err, "bind udp")
	}
	e.udpConn = conn
	e.channel = nat.NewChannel(conn, nil)
	return protocol.ResultOK, nil
}

// doAnnounceAddr emits one cookie probe so the server learns this socket's
// new public address. Success is merely "some reply arrived"; the reply's
// content (which may itself be the zero sentinel) is irrelevant here.
func (e *Executor) doAnnounceAddr() (protocol.Result, error) {
	if _, err := e.serverRequest(); err != nil {
		return "", err
	}
	return protocol.ResultOK, nil
}

// doUpdateAddr polls the server until it reports a non-zero address for
// the remote peer, then rebuilds the peer channel pinned to it.
func (e *Executor) doUpdateAddr(ctx context.Context) (protocol.Result, error) {
	for {
		resp, err := e.serverRequest()
		if err != nil {
			return "", err
		}
		if protocol.IsZeroAddr(resp) {
			select {
			case <-ctx.Done():
				return "", protocol.Wrap(protocol.KindTransport, ctx.Err(), "update_addr cancelled")
			case <-time.After(protocol.AddrWaitTime):
			}
			continue
		}
		ip, port, err := protocol.UnpackAddr(resp)
		if err != nil {
			return "", err
		}
		remote := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
		e.channel = nat.NewChannel(e.udpConn, remote)
		return protocol.ResultOK, nil
	}
}

// doSendHello bursts HelloPacketsCount hello datagrams at the remote's
// learned address, un-escaped (raw mode, §4.3).
func (e *Executor) doSendHello() (protocol.Result, error) {
	for i := 0; i < protocol.HelloPacketsCount; i++ {
		if err := e.channel.SendRaw(protocol.HelloPacket); err != nil {
			return "", err
		}
	}
	return protocol.ResultOK, nil
}

// doWaitHello blocks on RecvRaw until it sees protocol.HelloPacket. Each
// RecvRaw call re-arms its own idle deadline (nat.Endpoint.Recv), so this
// loop times out after protocol.UDPSocketTimeout of silence rather than a
// single fixed deadline for the whole wait. A timeout or a transport error
// (e.g. a connection reset surfaced from an earlier ICMP unreachable) is a
// terminal FAIL for this direction, not a session-aborting error — the
// server retries the punch with roles swapped (§4.5 step 5).
func (e *Executor) doWaitHello() (protocol.Result, error) {
	for {
		data, err := e.channel.RecvRaw()
		if err != nil {
			if kind, ok := protocol.KindOf(err); ok && (kind == protocol.KindTimeout || kind == protocol.KindTransport) {
				return protocol.ResultFail, nil
			}
			return "", err
		}
		if bytes.Equal(data, protocol.HelloPacket) {
			return protocol.ResultOK, nil
		}
	}
}

// serverRequest sends the three-line cookie probe and returns the payload
// of the first reply whose source IP matches the server, retrying up to
// protocol.ServerRequestProbes times. Exhausting the budget fails with
// protocol.ErrNoServer, per §4.6.
func (e *Executor) serverRequest() ([]byte, error) {
	payload := []byte(fmt.Sprintf("%s\n%s\n%s", protocol.Cookie, e.localID, e.remoteID))
	buf := make([]byte, 1024)

	for attempt := 0; attempt < protocol.ServerRequestProbes; attempt++ {
		e.udpConn.SetWriteDeadline(time.Now().Add(protocol.UDPSocketTimeout))
		if _, err := e.udpConn.WriteToUDP(payload, e.serverAddr); err != nil {
			return nil, protocol.Wrap(protocol.KindTransport, err, "server request: send")
		}

		e.udpConn.SetReadDeadline(time.Now().Add(protocol.UDPSocketTimeout))
		for {
			n, from, err := e.udpConn.ReadFromUDP(buf)
			if err != nil {
				break // timed out (or reset) waiting for this attempt's reply; retry
			}
			if !from.IP.Equal(e.serverAddr.IP) {
				continue // not from the rendezvous server; keep reading this attempt's window
			}
			out := make([]byte, n)
			copy(out, buf[:n])
			return out, nil
		}
	}
	return nil, protocol.Wrap(protocol.KindNoServer, nil, "server request: probe budget exhausted")
}
