//go:build windows

package vproxy

import "syscall"

// freebindControl is a no-op on Windows, which has no FREEBIND-style
// non-local bind facility (spec §9). Binding to an address not present
// on a local interface will fail and the Binder falls back to
// cfg.Fallback when one is set.
func freebindControl(network, address string, c syscall.RawConn) error {
	return nil
}
