//go:build windows

package std

import "syscall"

// reuseControl is a no-op on Windows: SO_REUSEADDR there permits silent
// port hijacking rather than the BSD "rebind during TIME_WAIT" semantics
// the Unix build relies on, so it is deliberately not set.
func reuseControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
