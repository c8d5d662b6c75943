package protocol

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
)

// AddrSize is the wire size of a packed public address: 4-byte IPv4
// network-order address plus 2-byte network-order port.
const AddrSize = 6

// ZeroAddr is the reserved "unknown / not yet learned" sentinel.
var ZeroAddr = [AddrSize]byte{}

// PackAddr encodes an IPv4 address and port into the 6-byte wire format.
// It returns an error if ip is not a valid IPv4 address.
func PackAddr(ip string, port int) ([]byte, error) {
	parsed := net.ParseIP(ip)
	v4 := parsed.To4()
	if v4 == nil {
		return nil, errors.Errorf("not an IPv4 address: %q", ip)
	}
	buf := make([]byte, AddrSize)
	copy(buf[:4], v4)
	binary.BigEndian.PutUint16(buf[4:], uint16(port))
	return buf, nil
}

// UnpackAddr decodes the 6-byte wire format into an IPv4 dotted-quad string
// and a port. It fails with a KindProtocol error if data is not exactly
// AddrSize bytes.
func UnpackAddr(data []byte) (ip string, port int, err error) {
	if len(data) != AddrSize {
		return "", 0, Wrap(KindProtocol, nil,
			errors.Errorf("address response has length %d, want %d", len(data), AddrSize).Error())
	}
	ipAddr := net.IPv4(data[0], data[1], data[2], data[3])
	return ipAddr.String(), int(binary.BigEndian.Uint16(data[4:6])), nil
}

// IsZeroAddr reports whether data is the 6-byte "unknown" sentinel.
func IsZeroAddr(data []byte) bool {
	if len(data) != AddrSize {
		return false
	}
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
