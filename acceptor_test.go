package vproxy

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcceptorDispatchesToHandler(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var handled int32
	var wg sync.WaitGroup
	wg.Add(1)
	a := NewAcceptor("test", ln, 4, func(conn net.Conn) {
		defer wg.Done()
		atomic.AddInt32(&handled, 1)
		conn.Close()
	})
	go a.Start()
	defer a.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	waitOrTimeout(t, &wg, time.Second)
	require.EqualValues(t, 1, atomic.LoadInt32(&handled))
}

func TestAcceptorBoundsConcurrency(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	release := make(chan struct{})
	var active int32
	var maxActive int32
	a := NewAcceptor("test", ln, 2, func(conn net.Conn) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxActive)
			if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		conn.Close()
	})
	go a.Start()
	defer a.Close()

	var conns []net.Conn
	for i := 0; i < 5; i++ {
		c, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		conns = append(conns, c)
	}
	time.Sleep(100 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(2))

	close(release)
	for _, c := range conns {
		c.Close()
	}
}

func TestAcceptorString(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	a := NewAcceptor("my-listener", ln, 0, func(net.Conn) {})
	require.Equal(t, "my-listener", a.String())
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for handler")
	}
}
