//go:build linux

package vproxy

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// freebindControl sets SO_REUSEADDR and IP(V6)_FREEBIND on the socket
// before bind+connect, letting bind succeed for a source address not
// yet present on any local interface (spec §4.3). This requires kernel
// cooperation (net.ipv4.ip_nonlocal_bind=1 or equivalent) which spec §1
// treats as an external, pre-configured collaborator.
func freebindControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		switch network {
		case "tcp6", "udp6":
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_FREEBIND, 1)
		default:
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_FREEBIND, 1)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
