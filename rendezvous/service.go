package rendezvous

import (
	"net"
	"strings"

	"github.com/holepunch/punchtun/protocol"
)

// Service answers UDP address probes against a shared Table. It does not
// own a socket: the server coordinator reads datagrams off its shared UDP
// listener and hands each one to HandleDatagram, so the TCP accept loop
// and the UDP probe service can share one bounded worker pool (§4.5, §5).
type Service struct {
	table *Table
}

// NewService returns a probe service backed by table.
func NewService(table *Table) *Service {
	return &Service{table: table}
}

// HandleDatagram implements §4.4: decode as UTF-8, split into exactly
// three newline-separated lines whose first is protocol.Cookie; record the
// sender's observed address under the sender id; and reply with the
// requested id's packed address, or the zero sentinel if unknown. Replies
// are unicast back to the datagram's source on conn, the same socket the
// request arrived on. Malformed datagrams are dropped silently — this is
// an unauthenticated public endpoint and a missing reply is not an error a
// caller can act on.
func (s *Service) HandleDatagram(conn *net.UDPConn, data []byte, from *net.UDPAddr) {
	senderID, requestedID, ok := parseProbe(data)
	if !ok {
		return
	}

	s.table.Put(senderID, from)

	var response []byte
	if addr, found := s.table.Get(requestedID); found {
		packed, err := protocol.PackAddr(addr.IP.String(), addr.Port)
		if err != nil {
			// A non-IPv4 rendezvous entry can't be packed onto the wire;
			// answer as if it were unknown rather than drop the reply.
			response = protocol.ZeroAddr[:]
		} else {
			response = packed
		}
	} else {
		response = protocol.ZeroAddr[:]
	}

	conn.WriteToUDP(response, from)
}

func parseProbe(data []byte) (senderID, requestedID string, ok bool) {
	text := string(data)
	lines := strings.Split(text, "\n")
	if len(lines) != 3 || lines[0] != string(protocol.Cookie) {
		return "", "", false
	}
	return lines[1], lines[2], true
}
