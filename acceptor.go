package vproxy

import (
	"net"

	"github.com/sirupsen/logrus"
)

// DefaultConcurrent is the default size of the Acceptor's connection
// semaphore (spec §6).
const DefaultConcurrent = 1024

// Handler processes one accepted client connection. It owns conn and
// must close it before returning.
type Handler func(conn net.Conn)

// Acceptor owns a listening socket and bounds the number of concurrently
// handled client connections with a counting semaphore (spec §4.7).
// Acquiring a permit blocks when saturated: deliberate backpressure,
// with no queuing beyond the OS accept backlog.
type Acceptor struct {
	id      string
	ln      net.Listener
	handler Handler
	sem     chan struct{}
}

var _ Listener = (*Acceptor)(nil)

// Listener mirrors the teacher's rdns.Listener shape: something that can
// be started and named.
type Listener interface {
	Start() error
	String() string
}

// NewAcceptor wraps ln with a semaphore of the given size (DefaultConcurrent
// if concurrent <= 0) and dispatches each accepted connection to handler
// on its own goroutine.
func NewAcceptor(id string, ln net.Listener, concurrent int, handler Handler) *Acceptor {
	if concurrent <= 0 {
		concurrent = DefaultConcurrent
	}
	return &Acceptor{
		id:      id,
		ln:      ln,
		handler: handler,
		sem:     make(chan struct{}, concurrent),
	}
}

// Start runs the accept loop until ln is closed. A permit is acquired
// before each Accept, so the handler is spawned holding it, and it is
// released on completion.
func (a *Acceptor) Start() error {
	Log.WithFields(logrus.Fields{"id": a.id, "addr": a.ln.Addr()}).Info("starting listener")
	for {
		a.sem <- struct{}{}
		conn, err := a.ln.Accept()
		if err != nil {
			<-a.sem
			return err
		}
		getVarInt("acceptor", a.id, "accepted").Add(1)
		active := getVarInt("acceptor", a.id, "active")
		active.Add(1)
		go func() {
			defer func() {
				active.Add(-1)
				<-a.sem
			}()
			a.handler(conn)
		}()
	}
}

// Close stops accepting new connections. In-flight connections drain
// independently.
func (a *Acceptor) Close() error {
	return a.ln.Close()
}

func (a *Acceptor) String() string { return a.id }
