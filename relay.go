package vproxy

import (
	"io"
	"net"
	"sync"
)

// RelayStats reports the bytes copied in each direction. Not guaranteed
// monotonic across cancellation (spec §4.4).
type RelayStats struct {
	ClientToUpstream int64
	UpstreamToClient int64
}

// halfCloser is implemented by net.TCPConn and net.UnixConn; both
// directions of Relay use it to propagate EOF as a half-close rather
// than tearing down the whole connection immediately.
type halfCloser interface {
	CloseWrite() error
}

// Relay copies bytes full-duplex between client and upstream until both
// directions have reached EOF or either errors, then closes both ends
// (spec §4.4). When one direction reaches EOF, the write side of the
// opposite connection is half-closed so the other direction can drain
// any remaining in-flight response before it too sees EOF.
func Relay(client, upstream net.Conn) RelayStats {
	var stats RelayStats
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := io.Copy(upstream, client)
		stats.ClientToUpstream = n
		if err != nil {
			client.Close()
			upstream.Close()
			return
		}
		halfClose(upstream)
	}()

	go func() {
		defer wg.Done()
		n, err := io.Copy(client, upstream)
		stats.UpstreamToClient = n
		if err != nil {
			client.Close()
			upstream.Close()
			return
		}
		halfClose(client)
	}()

	wg.Wait()
	client.Close()
	upstream.Close()
	return stats
}

// halfClose closes the write side of conn if it supports CloseWrite,
// otherwise closes it outright (e.g. a net.Pipe end, which has no
// half-close).
func halfClose(conn net.Conn) {
	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseWrite()
		return
	}
	_ = conn.Close()
}

// recordRelayStats adds stats to the per-listener bytes-relayed counters
// (SPEC_FULL §2.4).
func recordRelayStats(listenerID string, stats RelayStats) {
	getVarInt("relay", listenerID, "bytes-client-to-upstream").Add(stats.ClientToUpstream)
	getVarInt("relay", listenerID, "bytes-upstream-to-client").Add(stats.UpstreamToClient)
}
