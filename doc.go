/*
Package vproxy implements a forward proxy that accepts HTTP CONNECT,
plain HTTP forwarding, and SOCKS5 client sessions and relays them to
arbitrary upstream TCP endpoints, selecting the source IP address of
each outbound connection from a configured CIDR block.

Extension

An Extension is an affinity directive (TTL, Session, or Range) encoded
as a suffix of the proxy username, or read from a header when no
authentication is configured. See ParseExtension.

Allocator

An Allocator turns a CIDR, an optional sub-range width, and an Extension
into a concrete source IP address: deterministically for Session,
randomly within a deterministically chosen sub-block for Range, randomly
for the zero value, and with per-identity rotation for TTL. See
NewAllocator.

Binder

A Binder creates the outbound TCP socket, binds it to the address the
Allocator produced, and dials the upstream target with a timeout and an
optional single fallback-source retry. See NewBinder.

Front-ends

HTTPServer and Socks5Server are the two supported client-facing
protocols; both extract an Extension from client credentials, resolve a
source IP via the Allocator, dial upstream via the Binder, and hand the
two streams to Relay.

	cfg := vproxy.ConnectorConfig{CIDR: cidr, ConnectTimeout: 10 * time.Second}
	alloc := vproxy.NewAllocator(cfg, nil)
	bind := vproxy.NewBinder(cfg)
	srv := vproxy.NewSocks5Server(vproxy.Socks5Options{Allocator: alloc, Binder: bind})
	panic(srv.Serve(listener))
*/
package vproxy
