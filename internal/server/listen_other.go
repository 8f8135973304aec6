//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package server

import "net"

// listenConfig ignores reusePort on platforms without SO_REUSEPORT.
func listenConfig(reusePort bool) net.ListenConfig {
	return net.ListenConfig{}
}
