package vproxy

import (
	"crypto/tls"
	"net"
)

// HTTPSOptions configures the TLS-terminating front-end (SPEC_FULL
// §4.5): structurally identical to HTTPOptions, wrapped in a TLS
// handshake.
type HTTPSOptions struct {
	HTTPOptions
	TLSConfig *tls.Config
}

// HTTPSServer wraps HTTPServer's handler behind a TLS listener. It adds
// no protocol logic of its own; it exists to prove the front-end is
// transport-agnostic (spec §1 treats this as structurally identical to
// the plain HTTP front-end).
type HTTPSServer struct {
	inner *HTTPServer
	tlsConfig *tls.Config
}

// NewHTTPSServer returns an HTTPSServer.
func NewHTTPSServer(opt HTTPSOptions) *HTTPSServer {
	return &HTTPSServer{
		inner:     NewHTTPServer(opt.HTTPOptions),
		tlsConfig: opt.TLSConfig,
	}
}

// Serve wraps ln in a TLS listener and serves the HTTP front-end over it.
func (s *HTTPSServer) Serve(ln net.Listener) error {
	tlsLn := tls.NewListener(ln, s.tlsConfig)
	return s.inner.Serve(tlsLn)
}
