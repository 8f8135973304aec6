//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package server

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenConfig sets SO_REUSEADDR so a restarted server can rebind while old
// sockets sit in TIME_WAIT, and SO_REUSEPORT when asked.
func listenConfig(reusePort bool) net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if opErr == nil && reusePort {
					opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				}
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
