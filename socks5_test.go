package vproxy

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func dialSocks5(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return conn
}

func TestSocks5NoAuthConnect(t *testing.T) {
	upstream := startEchoServer(t)
	defer upstream.Close()

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()

	srv := NewSocks5Server(Socks5Options{
		ID:        "test",
		Allocator: NewAllocator(ConnectorConfig{}, nil),
		Binder:    NewBinder(ConnectorConfig{}),
	})
	go srv.Serve(proxyLn)

	conn := dialSocks5(t, proxyLn.Addr().String())
	defer conn.Close()

	// Method negotiation: offer NO_AUTH.
	_, err = conn.Write([]byte{socksVersion5, 1, methodNoAuth})
	require.NoError(t, err)
	reply := make([]byte, 2)
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	require.Equal(t, byte(socksVersion5), reply[0])
	require.Equal(t, byte(methodNoAuth), reply[1])

	upstreamAddr := upstream.Addr().(*net.TCPAddr)
	req := []byte{socksVersion5, cmdConnect, 0x00, atypIPv4}
	req = append(req, upstreamAddr.IP.To4()...)
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, uint16(upstreamAddr.Port))
	req = append(req, portBytes...)
	_, err = conn.Write(req)
	require.NoError(t, err)

	respHdr := make([]byte, 4)
	_, err = io.ReadFull(conn, respHdr)
	require.NoError(t, err)
	require.Equal(t, byte(repSucceeded), respHdr[1])
	require.Equal(t, byte(atypIPv4), respHdr[3])

	var addrLen int
	switch respHdr[3] {
	case atypIPv4:
		addrLen = 4
	case atypIPv6:
		addrLen = 16
	}
	_, err = io.ReadFull(conn, make([]byte, addrLen+2))
	require.NoError(t, err)

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestSocks5RejectsUnsupportedCommand(t *testing.T) {
	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()

	srv := NewSocks5Server(Socks5Options{
		ID:        "test",
		Allocator: NewAllocator(ConnectorConfig{}, nil),
		Binder:    NewBinder(ConnectorConfig{}),
	})
	go srv.Serve(proxyLn)

	conn := dialSocks5(t, proxyLn.Addr().String())
	defer conn.Close()

	_, err = conn.Write([]byte{socksVersion5, 1, methodNoAuth})
	require.NoError(t, err)
	_, err = io.ReadFull(conn, make([]byte, 2))
	require.NoError(t, err)

	// BIND command (0x02), unsupported.
	req := []byte{socksVersion5, 0x02, 0x00, atypIPv4, 127, 0, 0, 1, 0, 80}
	_, err = conn.Write(req)
	require.NoError(t, err)

	respHdr := make([]byte, 4)
	_, err = io.ReadFull(conn, respHdr)
	require.NoError(t, err)
	require.Equal(t, byte(repCommandNotSupported), respHdr[1])
}

func TestSocks5UserPassAuthRequired(t *testing.T) {
	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()

	srv := NewSocks5Server(Socks5Options{
		ID:        "test",
		Allocator: NewAllocator(ConnectorConfig{}, nil),
		Binder:    NewBinder(ConnectorConfig{}),
		Username:  "alice",
		Password:  "secret",
	})
	go srv.Serve(proxyLn)

	conn := dialSocks5(t, proxyLn.Addr().String())
	defer conn.Close()

	// Client only offers NO_AUTH; server requires USERNAME/PASSWORD.
	_, err = conn.Write([]byte{socksVersion5, 1, methodNoAuth})
	require.NoError(t, err)
	reply := make([]byte, 2)
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	require.Equal(t, byte(methodNoAcceptable), reply[1])
}

func TestSocks5UserPassAuthSucceedsWithSuffixedUsername(t *testing.T) {
	upstream := startEchoServer(t)
	defer upstream.Close()

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()

	srv := NewSocks5Server(Socks5Options{
		ID:        "test",
		Allocator: NewAllocator(ConnectorConfig{}, nil),
		Binder:    NewBinder(ConnectorConfig{}),
		Username:  "alice",
		Password:  "secret",
	})
	go srv.Serve(proxyLn)

	conn := dialSocks5(t, proxyLn.Addr().String())
	defer conn.Close()

	_, err = conn.Write([]byte{socksVersion5, 1, methodUserPass})
	require.NoError(t, err)
	reply := make([]byte, 2)
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	require.Equal(t, byte(methodUserPass), reply[1])

	user := "alice-ttl-5"
	pass := "secret"
	sub := []byte{userPassVersion, byte(len(user))}
	sub = append(sub, user...)
	sub = append(sub, byte(len(pass)))
	sub = append(sub, pass...)
	_, err = conn.Write(sub)
	require.NoError(t, err)

	authReply := make([]byte, 2)
	_, err = io.ReadFull(conn, authReply)
	require.NoError(t, err)
	require.Equal(t, byte(authSuccess), authReply[1])
}
