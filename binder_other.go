//go:build !linux && !windows

package vproxy

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// freebindControl sets SO_REUSEADDR only: IP_FREEBIND/IPV6_FREEBIND have
// no portable equivalent outside Linux (spec §9). On these platforms
// binding to an address not configured on a local interface will fail
// and the Binder falls back to cfg.Fallback when one is set.
func freebindControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
