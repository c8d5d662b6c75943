// Package protocol implements the wire format shared by the traversal
// server and client: the line-framed TCP control codec, the operation and
// result enumerations, the 6-byte packed address format, and the error
// taxonomy every socket-facing call site reports through.
package protocol

import "time"

// Port is the well-known TCP+UDP port the rendezvous server listens on.
const Port = 9527

// Cookie marks a datagram as belonging to the traversal protocol itself
// (address probes, keepalives, hello) rather than to an application
// payload. HelloPacket and KeepalivePacket both start with it, and the
// same bytes double as the literal first line of the UDP address-probe
// request, so Cookie must be valid UTF-8 text containing no newline.
var Cookie = []byte("PNCHTUN0")

// HelloPacket is the datagram peers burst at each other's learned address
// during SEND_HELLO/WAIT_HELLO.
var HelloPacket = append(append([]byte{}, Cookie...), "HELLO"...)

// KeepalivePacket is the sentinel datagram the NAT-kept channel emits
// periodically to hold the NAT mapping open.
var KeepalivePacket = append(append([]byte{}, Cookie...), "KEEPALIVE"...)

// Escape is the byte prefixed onto application payloads that collide with
// Cookie on the wire.
const Escape = '\\'

const (
	// HelloPacketsCount is the number of hello datagrams burst per SEND_HELLO.
	HelloPacketsCount = 5
	// ServerRequestProbes bounds the retransmits of a single rendezvous probe.
	ServerRequestProbes = 5
	// SendAndWaitRetries is the retransmit bound for a single lockstep step.
	// Codec.SendAndWait does not consult it: it resends until the expected
	// result arrives or an I/O error occurs.
	SendAndWaitRetries = 0 // 0 == unbounded, matches the source's while-True loop
)

const (
	// AddrWaitTime is the pause between UPDATE_ADDR polls while the peer's
	// public address is still unknown.
	AddrWaitTime = time.Second
	// KeepaliveSendTime is the period between keepalive emissions.
	KeepaliveSendTime = 10 * time.Second
	// DisconnectTimeout is the silence window after which a peer channel is
	// considered no longer active.
	DisconnectTimeout = 60 * time.Second
	// UDPSocketTimeout is the read timeout set on every client UDP socket.
	UDPSocketTimeout = 2 * time.Second
	// OperationTimeout is the read/write timeout set on every TCP control
	// socket, client and server side.
	OperationTimeout = 30 * time.Second
	// LocalConnectionTimeout bounds how long the relay waits to establish
	// its local application-facing leg.
	LocalConnectionTimeout = 100 * time.Millisecond
)

// ServerWorkers bounds the pool shared by the TCP accept loop and the UDP
// address service.
const ServerWorkers = 64
