// Package relay ferries application datagrams between an established peer
// channel and a local application socket. It is the one piece of the repo
// that is not subject to the traversal protocol's own invariants: once a
// channel is live, the relay just repeats bytes in both directions until
// told to stop.
package relay

import (
	"net"
	"sync"

	"github.com/holepunch/punchtun/protocol"
)

// link is the minimal send/recv shape a relay endpoint needs. Both
// *nat.Channel and *nat.Endpoint satisfy it.
type link interface {
	Send([]byte) error
	Recv() ([]byte, error)
}

// Repeater splices two links together, one datagram at a time, in both
// directions. Grounded on the Python original's ConnectionsRepeater: one
// goroutine per direction, each looping recv-then-send until stopped.
type Repeater struct {
	peer  link
	local link

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	errPeer  error
	errLocal error
}

// NewRepeater builds a repeater between peer (the traversed NAT channel) and
// local (the application-facing socket). It does not start copying until
// Start is called.
func NewRepeater(peer, local link) *Repeater {
	return &Repeater{peer: peer, local: local, stop: make(chan struct{})}
}

// Start launches the two copy directions as background goroutines. It
// returns immediately; call Wait to block until both directions have exited.
func (r *Repeater) Start() {
	r.wg.Add(2)
	go r.repeatFrom(r.peer, r.local, &r.errPeer)
	go r.repeatFrom(r.local, r.peer, &r.errLocal)
}

// Stop signals both directions to exit after their current recv unblocks.
// A blocked recv with no read deadline will not observe Stop until its next
// wakeup; callers that need prompt shutdown should close the underlying
// sockets instead, or rely on Stop racing a short recv timeout.
func (r *Repeater) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Wait blocks until both copy directions have exited, then returns the
// errors each direction last saw, if any (nil for a clean stop).
func (r *Repeater) Wait() (errFromPeer, errFromLocal error) {
	r.wg.Wait()
	return r.errPeer, r.errLocal
}

func (r *Repeater) repeatFrom(src, dst link, lastErr *error) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		data, err := src.Recv()
		if err != nil {
			if kind, ok := protocol.KindOf(err); ok && kind == protocol.KindTimeout {
				continue
			}
			*lastErr = err
			return
		}
		if err := dst.Send(data); err != nil {
			if kind, ok := protocol.KindOf(err); ok && kind == protocol.KindTimeout {
				continue
			}
			*lastErr = err
			return
		}
	}
}

// ListenLocal opens a UDP socket for the "listen" relay mode: the local
// application is expected to connect to this port first, and its source
// address is learned non-strictly from whatever arrives first (mirrors
// nat.Endpoint's non-strict pinning). The caller is expected to wrap the
// returned conn in a nat.Endpoint before handing it to a Repeater — that's
// what arms and keeps re-arming its read deadline, so a quiet application
// socket unblocks repeatFrom's select on r.stop instead of hanging forever.
func ListenLocal(laddr *net.UDPAddr) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindTransport, err, "relay: listen local")
	}
	return conn, nil
}

// DialLocal opens a UDP socket for the "connect" relay mode: the relay
// actively connects out to a fixed local application address, strictly
// pinned from the start. See ListenLocal: wrap the result in a nat.Endpoint
// before relaying through it.
func DialLocal(raddr *net.UDPAddr) (*net.UDPConn, error) {
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindTransport, err, "relay: dial local")
	}
	return conn, nil
}
