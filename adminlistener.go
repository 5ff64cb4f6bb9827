package vproxy

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"time"
)

// Read/Write timeout in the admin server.
const adminServerTimeout = 10 * time.Second

// AdminListener exposes read-only operational endpoints (expvar metrics
// and a health check) on a separate address from the proxy front-ends
// (SPEC_FULL §4.1). It never accepts front-end traffic and performs no
// control-plane mutation.
type AdminListener struct {
	httpServer *http.Server

	id   string
	addr string
	mux  *http.ServeMux
}

var _ Listener = (*AdminListener)(nil)

// NewAdminListener returns an admin service listener bound to addr.
func NewAdminListener(id, addr string) *AdminListener {
	l := &AdminListener{
		id:   id,
		addr: addr,
		mux:  http.NewServeMux(),
	}
	l.mux.Handle("/debug/vars", expvar.Handler())
	l.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return l
}

// Start the admin server. Blocks until Stop is called or the listener
// errors.
func (s *AdminListener) Start() error {
	Log.WithField("id", s.id).WithField("addr", s.addr).Info("starting admin listener")
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  adminServerTimeout,
		WriteTimeout: adminServerTimeout,
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the admin server down gracefully.
func (s *AdminListener) Stop(ctx context.Context) error {
	Log.WithField("id", s.id).Info("stopping admin listener")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *AdminListener) String() string { return s.id }
