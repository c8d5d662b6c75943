//go:build !windows

package std

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl sets SO_REUSEADDR (and, where the platform defines it,
// SO_REUSEPORT) on the socket before bind, so the server's TCP control
// listener and UDP probe socket can rebind a just-released port across a
// restart without waiting out TIME_WAIT.
func reuseControl(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			ctrlErr = err
			return
		}
		ctrlErr = setReusePort(int(fd))
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
