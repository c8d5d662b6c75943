//go:build !windows && !linux

package std

// setReusePort is a no-op on unix platforms without SO_REUSEPORT (or where
// golang.org/x/sys/unix does not expose a stable constant for it); those
// still get SO_REUSEADDR from reuseControl.
func setReusePort(fd int) error {
	return nil
}
