package vproxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBinderDialWithoutSource(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	b := NewBinder(ConnectorConfig{})
	conn, err := b.Dial(context.Background(), "tcp", ln.Addr().String(), nil)
	require.NoError(t, err)
	conn.Close()
}

func TestBinderDialConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // nothing listening now

	b := NewBinder(ConnectorConfig{})
	_, err = b.Dial(context.Background(), "tcp", addr, nil)
	require.Error(t, err)
	kind, ok := AsKind(err)
	require.True(t, ok)
	require.Equal(t, KindConnectRefused, kind)
}

func TestBinderDialTimeout(t *testing.T) {
	b := NewBinder(ConnectorConfig{ConnectTimeout: time.Nanosecond})
	_, err := b.Dial(context.Background(), "tcp", "198.51.100.1:80", nil)
	require.Error(t, err)
	kind, ok := AsKind(err)
	require.True(t, ok)
	require.Equal(t, KindConnectTimeout, kind)
}

func TestSameFamily(t *testing.T) {
	require.True(t, sameFamily(net.ParseIP("198.51.100.1"), "93.184.216.34:80"))
	require.False(t, sameFamily(net.ParseIP("198.51.100.1"), "[2001:db8::1]:80"))
}
