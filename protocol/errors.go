package protocol

import "github.com/pkg/errors"

// Kind classifies why a protocol-facing call failed, so callers can decide
// whether to retry, restart a session, or abandon a pair without string
// matching on error text.
type Kind int

const (
	// KindTimeout means a socket read exceeded its configured budget.
	// Usually recoverable by re-probing or re-stepping.
	KindTimeout Kind = iota
	// KindTransport means the OS reported connection reset, refused, or
	// unreachable. Recoverable by reconnection.
	KindTransport
	// KindClosed means the peer half-closed the control channel.
	// Terminates the current session.
	KindClosed
	// KindProtocol means the data on the wire was unparseable or broke an
	// expected invariant. Drops the offending datagram or session.
	KindProtocol
	// KindNoServer means the rendezvous probe budget was exhausted.
	// Bubbles up to the outer retry loop.
	KindNoServer
	// KindTraversal means a pair failed hole punching in both directions.
	// Closes the pair.
	KindTraversal
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindClosed:
		return "closed"
	case KindProtocol:
		return "protocol"
	case KindNoServer:
		return "no-server"
	case KindTraversal:
		return "traversal"
	default:
		return "unknown"
	}
}

// kindError pairs a Kind with the underlying cause so errors.Is and
// errors.Cause both work against it.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() error { return e.cause }

// Cause lets github.com/pkg/errors.Cause walk through to the wrapped cause.
func (e *kindError) Cause() error { return e.cause }

// Is lets errors.Is(err, protocol.ErrTimeout) (etc.) match any error of the
// same Kind, regardless of the wrapped cause.
func (e *kindError) Is(target error) bool {
	other, ok := target.(*kindError)
	return ok && other.kind == e.kind
}

// Sentinel errors, one per Kind, matched via errors.Is.
var (
	ErrTimeout   = &kindError{kind: KindTimeout}
	ErrTransport = &kindError{kind: KindTransport}
	ErrClosed    = &kindError{kind: KindClosed}
	ErrProtocol  = &kindError{kind: KindProtocol}
	ErrNoServer  = &kindError{kind: KindNoServer}
	ErrTraversal = &kindError{kind: KindTraversal}
)

// Wrap builds a Kind-classified error around cause, preserving it under
// errors.Cause/errors.Unwrap for logging with "%+v" stack traces.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return &kindError{kind: kind, cause: errors.New(message)}
	}
	return &kindError{kind: kind, cause: errors.Wrap(cause, message)}
}

// KindOf extracts the Kind of err if it (or something it wraps) is a
// Kind-classified error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var ke *kindError
	for err != nil {
		if k, ok := err.(*kindError); ok {
			ke = k
			break
		}
		err = errors.Unwrap(err)
	}
	if ke == nil {
		return 0, false
	}
	return ke.kind, true
}
