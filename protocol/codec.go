package protocol

import (
	"bufio"
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// Codec frames a byte-oriented full-duplex stream (the TCP control
// connection) into newline-terminated lines and maps them to/from the
// Operation/Result enumerations. Reads and writes are strictly ordered;
// the codec does not pipeline.
type Codec struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewCodec wraps conn. conn should already have its read/write deadlines
// configured by the caller (OperationTimeout on the server, per-call
// deadlines on the client).
func NewCodec(conn net.Conn) *Codec {
	return &Codec{conn: conn, r: bufio.NewReader(conn)}
}

// Conn returns the underlying connection, e.g. for RemoteAddr().
func (c *Codec) Conn() net.Conn { return c.conn }

// ReadLine reads one newline-terminated, UTF-8 line with the trailing
// newline stripped. A half-closed connection surfaces as ErrClosed; any
// other I/O failure surfaces as ErrTransport, except a configured deadline
// expiring, which surfaces as ErrTimeout.
func (c *Codec) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return "", Wrap(KindClosed, err, "control connection closed")
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", Wrap(KindTimeout, err, "read control line")
		}
		return "", Wrap(KindTransport, err, "read control line")
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

// WriteLine writes s terminated by a newline and flushes immediately;
// there is no buffering beyond a single write call.
func (c *Codec) WriteLine(s string) error {
	_, err := io.WriteString(c.conn, s+"\n")
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Wrap(KindTimeout, err, "write control line")
		}
		return Wrap(KindTransport, err, "write control line")
	}
	return nil
}

// ReadOperation reads and validates one line as an Operation.
func (c *Codec) ReadOperation() (Operation, error) {
	line, err := c.ReadLine()
	if err != nil {
		return "", err
	}
	op, ok := ParseOperation(line)
	if !ok {
		return "", Wrap(KindProtocol, nil, errors.Errorf("unknown operation %q", line).Error())
	}
	return op, nil
}

// ReadResult reads and validates one line as a Result.
func (c *Codec) ReadResult() (Result, error) {
	line, err := c.ReadLine()
	if err != nil {
		return "", err
	}
	res, ok := ParseResult(line)
	if !ok {
		return "", Wrap(KindProtocol, nil, errors.Errorf("unknown result %q", line).Error())
	}
	return res, nil
}

// WriteOperation writes op as a line.
func (c *Codec) WriteOperation(op Operation) error { return c.WriteLine(string(op)) }

// WriteResult writes res as a line.
func (c *Codec) WriteResult(res Result) error { return c.WriteLine(string(res)) }

// SendAndWait is the core idempotence-tolerant handshake used by the
// server: it repeatedly writes op and reads a result until the result
// equals expected. A mismatched result does not advance any state; it
// simply causes op to be resent. A transport/timeout/closed failure at any
// point aborts immediately.
func (c *Codec) SendAndWait(op Operation, expected Result) error {
	for {
		if err := c.WriteOperation(op); err != nil {
			return err
		}
		res, err := c.ReadResult()
		if err != nil {
			return err
		}
		if res == expected {
			return nil
		}
	}
}

// SendAndRecv writes op once and returns whatever result comes back,
// without retrying on mismatch. Used by WAIT_HELLO, where FAIL is a
// meaningful terminal answer rather than something to retry past.
func (c *Codec) SendAndRecv(op Operation) (Result, error) {
	if err := c.WriteOperation(op); err != nil {
		return "", err
	}
	return c.ReadResult()
}
