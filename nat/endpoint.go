// Package nat implements the UDP datagram endpoint and the NAT-kept
// channel layered on top of it: keepalive emission, cookie-escape framing
// of application payloads, and the liveness clock that drives client-side
// reconnection.
package nat

import (
	"net"
	"time"

	"github.com/holepunch/punchtun/protocol"
)

const recvBufSize = 8192

// Endpoint wraps a single UDP socket and an optional pinned remote
// address. It never shares its socket with any other Endpoint.
type Endpoint struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	strict bool
}

// NewEndpoint wraps conn. If remote is non-nil the endpoint starts pinned
// ("strict" mode): Recv drops datagrams not sourced from remote. If remote
// is nil the endpoint is in "non-strict" mode and pins to the source of
// the first datagram it receives.
func NewEndpoint(conn *net.UDPConn, remote *net.UDPAddr) *Endpoint {
	return &Endpoint{conn: conn, remote: remote, strict: remote != nil}
}

// LocalAddr returns the socket's local address.
func (e *Endpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// RemoteAddr returns the currently pinned remote address, or nil if none
// has been learned yet.
func (e *Endpoint) RemoteAddr() *net.UDPAddr { return e.remote }

// Send writes data to the pinned remote address.
func (e *Endpoint) Send(data []byte) error {
	if e.remote == nil {
		return protocol.Wrap(protocol.KindTransport, nil, "send with no pinned remote address")
	}
	var err error
	if e.conn.RemoteAddr() != nil {
		// A connected socket (net.DialUDP) rejects WriteToUDP.
		_, err = e.conn.Write(data)
	} else {
		_, err = e.conn.WriteToUDP(data, e.remote)
	}
	return classifyWriteErr(err)
}

// Recv returns the next datagram whose source matches the pinned remote
// (strict mode), or the first datagram received, pinning its source as the
// remote for subsequent sends (non-strict mode). Before every read it
// re-arms the socket's read deadline to protocol.UDPSocketTimeout out from
// now, so the deadline behaves like Python's socket.settimeout() — a
// per-call idle timeout, not a one-shot wall-clock deadline that never gets
// reset once the caller starts treating the endpoint as long-lived (see
// udp_connection.py). Expiry surfaces as protocol.ErrTimeout,
// reset/unreachable errors as protocol.ErrTransport.
func (e *Endpoint) Recv() ([]byte, error) {
	buf := make([]byte, recvBufSize)
	for {
		if err := e.conn.SetReadDeadline(time.Now().Add(protocol.UDPSocketTimeout)); err != nil {
			return nil, protocol.Wrap(protocol.KindTransport, err, "set udp read deadline")
		}
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, classifyReadErr(err)
		}
		if e.strict && e.remote != nil && !sameAddr(from, e.remote) {
			continue
		}
		if e.remote == nil {
			e.remote = from
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	}
}

// Close closes the underlying socket.
func (e *Endpoint) Close() error { return e.conn.Close() }

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return protocol.Wrap(protocol.KindTimeout, err, "udp recv")
	}
	return protocol.Wrap(protocol.KindTransport, err, "udp recv")
}

func classifyWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return protocol.Wrap(protocol.KindTimeout, err, "udp send")
	}
	return protocol.Wrap(protocol.KindTransport, err, "udp send")
}
