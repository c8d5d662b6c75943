package nat

import (
	"bytes"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holepunch/punchtun/protocol"
)

// Channel wraps an Endpoint with the three responsibilities the
// post-traversal peer link needs beyond raw UDP: a cancellable keepalive
// emitter, cookie-escape framing of application payloads, and a liveness
// clock the owner polls to decide when to re-enter traversal.
type Channel struct {
	ep *Endpoint

	keepaliveOnce sync.Once
	keepaliveStop chan struct{}
	keepaliveDone chan struct{}

	lastPacket atomic.Int64 // unix nanos, monotonic-ish via time.Now().UnixNano()

	closeOnce sync.Once
}

// NewChannel builds a channel over conn, pinned to remote (remote may be
// nil if it is not yet known; see protocol §4.6 BIND). The keepalive
// emitter is NOT started; the owner must call StartKeepalive explicitly
// once traversal has completed.
func NewChannel(conn *net.UDPConn, remote *net.UDPAddr) *Channel {
	c := &Channel{
		ep:            NewEndpoint(conn, remote),
		keepaliveStop: make(chan struct{}),
		keepaliveDone: make(chan struct{}),
	}
	c.lastPacket.Store(time.Now().UnixNano())
	return c
}

// LocalAddr returns the underlying socket's local address.
func (c *Channel) LocalAddr() net.Addr { return c.ep.LocalAddr() }

// RemoteAddr returns the pinned remote address, or nil.
func (c *Channel) RemoteAddr() *net.UDPAddr { return c.ep.RemoteAddr() }

// Send escapes data if necessary and sends it as an application payload.
func (c *Channel) Send(data []byte) error {
	return c.SendRaw(escape(data))
}

// Recv returns the next application payload, transparently dropping and
// re-reading keepalive/control datagrams (anything starting with
// protocol.Cookie that was not escaped) and unescaping the rest.
func (c *Channel) Recv() ([]byte, error) {
	for {
		data, err := c.RecvRaw()
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(data, protocol.Cookie) {
			continue
		}
		return unescape(data), nil
	}
}

// SendRaw bypasses escaping entirely. Used during traversal for hello and
// address probes, which must reach the wire exactly as specified.
func (c *Channel) SendRaw(data []byte) error {
	return c.ep.Send(data)
}

// RecvRaw bypasses unescaping and the cookie-drop filter except for
// keepalives, which are always dropped: a raw reader waiting for a hello
// packet must not be woken by a keepalive that happens to arrive first.
// Every successful read, raw or not, advances the liveness clock.
func (c *Channel) RecvRaw() ([]byte, error) {
	for {
		data, err := c.ep.Recv()
		if err != nil {
			return nil, err
		}
		c.touch()
		if bytes.Equal(data, protocol.KeepalivePacket) {
			continue
		}
		return data, nil
	}
}

func (c *Channel) touch() {
	c.lastPacket.Store(time.Now().UnixNano())
}

// Active reports whether a datagram has been received within the last
// DisconnectTimeout.
func (c *Channel) Active() bool {
	last := time.Unix(0, c.lastPacket.Load())
	return time.Since(last) < protocol.DisconnectTimeout
}

// StartKeepalive launches the background emitter that sends
// protocol.KeepalivePacket to the pinned remote every
// protocol.KeepaliveSendTime. It is a no-op if already started. The owner
// must not call this during traversal — hello probes would otherwise be
// interleaved with keepalives on the wire.
func (c *Channel) StartKeepalive() {
	c.keepaliveOnce.Do(func() {
		go c.keepaliveLoop()
	})
}

func (c *Channel) keepaliveLoop() {
	defer close(c.keepaliveDone)
	ticker := time.NewTicker(protocol.KeepaliveSendTime)
	defer ticker.Stop()
	for {
		select {
		case <-c.keepaliveStop:
			return
		case <-ticker.C:
			// Best effort: a send failure here does not change liveness;
			// the owner discovers a dead link via Active() instead.
			_ = c.ep.Send(protocol.KeepalivePacket)
		}
	}
}

// Close cancels the keepalive emitter and closes the underlying socket.
// Idempotent: repeated calls are safe and return nil after the first.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.keepaliveStop)
		err = c.ep.Close()
	})
	return err
}

func escape(data []byte) []byte {
	if bytes.HasPrefix(data, protocol.Cookie) || (len(data) > 0 && data[0] == protocol.Escape) {
		out := make([]byte, len(data)+1)
		out[0] = protocol.Escape
		copy(out[1:], data)
		return out
	}
	return data
}

func unescape(data []byte) []byte {
	if len(data) > 0 && data[0] == protocol.Escape {
		return data[1:]
	}
	return data
}
