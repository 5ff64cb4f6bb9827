package vproxy

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"time"
)

const defaultConnectTimeout = 10 * time.Second

// Binder creates the outbound TCP socket for a relayed connection,
// binding it to the address the Allocator selected (spec §4.3).
type Binder struct {
	cfg ConnectorConfig
}

// NewBinder returns a Binder using cfg's fallback source and connect
// timeout.
func NewBinder(cfg ConnectorConfig) *Binder {
	return &Binder{cfg: cfg}
}

// Dial connects to target (a resolved "ip:port"), binding the local end
// to source when source is non-nil and matches target's address family.
// On a family mismatch the allocator's address cannot be used and the
// dial falls through to OS default routing without error (spec §4.3).
// On bind/connect failure, if cfg.Fallback is configured and source was
// not already the fallback, Dial retries once from the fallback source;
// that retry is not itself retried.
func (b *Binder) Dial(ctx context.Context, network, target string, source net.IP) (net.Conn, error) {
	timeout := b.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	effectiveSource := source
	if effectiveSource != nil && !sameFamily(effectiveSource, target) {
		getVarInt("binder", network, "family-mismatch").Add(1)
		Log.WithField("source", effectiveSource).Debug("source/target address family mismatch, using default route")
		effectiveSource = nil
	}

	conn, err := dialFrom(ctx, network, target, effectiveSource)
	if err == nil {
		return conn, nil
	}

	isFallbackAttempt := effectiveSource != nil && b.cfg.Fallback != nil && effectiveSource.Equal(b.cfg.Fallback)
	if b.cfg.Fallback == nil || isFallbackAttempt {
		return nil, classifyDialError(err)
	}

	Log.WithError(err).WithField("fallback", b.cfg.Fallback).Warn("bind/connect failed, retrying from fallback source")
	getVarInt("binder", network, "fallback-used").Add(1)
	conn, err = dialFrom(ctx, network, target, b.cfg.Fallback)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return conn, nil
}

func dialFrom(ctx context.Context, network, target string, source net.IP) (net.Conn, error) {
	d := &net.Dialer{
		Control: freebindControl,
	}
	if source != nil {
		d.LocalAddr = &net.TCPAddr{IP: source}
	}
	return d.DialContext(ctx, network, target)
}

func sameFamily(ip net.IP, target string) bool {
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		host = target
	}
	targetIP := net.ParseIP(host)
	if targetIP == nil {
		// Domain name: front-ends resolve before calling Dial, so this
		// only happens for callers passing an unresolved host. Treat it
		// as matching so the bind is still attempted.
		return true
	}
	return (ip.To4() != nil) == (targetIP.To4() != nil)
}

// classifyDialError maps a low-level dial error to the Kind taxonomy of
// spec §7.
func classifyDialError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return newError(KindConnectTimeout, err, "connect timed out")
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return newError(KindConnectRefused, err, "connection refused")
	}
	getVarInt("binder", "bind", "failures").Add(1)
	return newError(KindBindFailure, err, "bind or connect failed")
}
