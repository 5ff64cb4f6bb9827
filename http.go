package vproxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPOptions configures an HTTPServer front-end (spec §4.5).
type HTTPOptions struct {
	ID        string
	Allocator *Allocator
	Binder    *Binder
	// Username/Password, when both set, require Proxy-Authorization:
	// Basic on every request. When unset, extensions are read from the
	// ttl/session/range headers instead (spec §4.5).
	Username string
	Password string
	// Concurrent bounds simultaneously handled client connections
	// (DefaultConcurrent if <= 0).
	Concurrent int
}

// HTTPServer is the HTTP CONNECT / absolute-form forward proxy
// front-end.
type HTTPServer struct {
	opt HTTPOptions
}

// NewHTTPServer returns an HTTPServer.
func NewHTTPServer(opt HTTPOptions) *HTTPServer {
	return &HTTPServer{opt: opt}
}

// Serve accepts connections from ln and handles each one until ln is
// closed.
func (s *HTTPServer) Serve(ln net.Listener) error {
	a := NewAcceptor(s.opt.ID, ln, s.opt.Concurrent, s.handleConn)
	return a.Start()
}

func (s *HTTPServer) requireAuth() bool {
	return s.opt.Username != "" && s.opt.Password != ""
}

func (s *HTTPServer) handleConn(conn net.Conn) {
	defer conn.Close()
	log := Log.WithFields(logrus.Fields{"front-end": "http", "id": s.opt.ID, "client": conn.RemoteAddr()})

	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		log.WithError(err).Debug("failed to parse request")
		return
	}

	identity, ext, authErr := s.authenticate(req, conn)
	if authErr != nil {
		log.WithError(authErr).Debug("authentication failed")
		writeProxyAuthRequired(conn)
		return
	}
	log = log.WithFields(logrus.Fields{"identity": identity, "extension": ext.Kind})

	if req.Method == http.MethodConnect {
		s.handleConnect(log, conn, req, identity, ext)
		return
	}
	s.handleForward(log, conn, br, req, identity, ext)
}

// authenticate performs Proxy-Authorization: Basic validation when
// configured, or reads the ttl/session/range headers otherwise (spec
// §4.5). It always returns the raw username (including any affinity
// suffix) as the client identity when authenticated, and the client's
// remote IP (without port) otherwise, so the caller can key the TTL map
// by it.
func (s *HTTPServer) authenticate(req *http.Request, conn net.Conn) (identity string, ext Extension, err error) {
	if !s.requireAuth() {
		identity = conn.RemoteAddr().String()
		if host, _, splitErr := net.SplitHostPort(identity); splitErr == nil {
			identity = host
		}
		return identity, ParseExtensionHeaders(req.Header), nil
	}

	hdr := req.Header.Get("Proxy-Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(hdr, prefix) {
		return "", Extension{}, newError(KindAuthRequired, nil, "missing Proxy-Authorization header")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(hdr, prefix))
	if err != nil {
		return "", Extension{}, newError(KindAuthRequired, err, "malformed basic auth")
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", Extension{}, newError(KindAuthRequired, nil, "malformed basic auth credential")
	}
	if user == "" || pass != s.opt.Password || !identityMatches(user, s.opt.Username) {
		return "", Extension{}, newError(KindAuthRequired, nil, "credential mismatch")
	}
	return user, ParseExtension(user), nil
}

func (s *HTTPServer) dial(ctx context.Context, log *logrus.Entry, identity string, ext Extension, hostport string) (net.Conn, error) {
	source, _ := s.opt.Allocator.Allocate(identity, ext)
	target, err := resolveTarget(ctx, hostport, s.opt.Allocator)
	if err != nil {
		return nil, newError(KindDNSFailure, err, "resolve upstream")
	}
	log.WithField("source-ip", source).WithField("target", target).Debug("dialing upstream")
	return s.opt.Binder.Dial(ctx, "tcp", target, source)
}

func (s *HTTPServer) handleConnect(log *logrus.Entry, conn net.Conn, req *http.Request, identity string, ext Extension) {
	upstream, err := s.dial(context.Background(), log, identity, ext, req.Host)
	if err != nil {
		log.WithError(err).Warn("connect failed")
		writeStatus(conn, statusForError(err))
		return
	}
	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		upstream.Close()
		return
	}
	recordRelayStats(s.opt.ID, Relay(conn, upstream))
}

// handleForward forwards an absolute-form request (e.g. "GET
// http://host/path HTTP/1.1") to its origin and relays the response
// back, then closes the connection: no keep-alive reuse across
// different origins (spec §4.5).
func (s *HTTPServer) handleForward(log *logrus.Entry, conn net.Conn, br *bufio.Reader, req *http.Request, identity string, ext Extension) {
	if req.URL.Host == "" {
		writeStatus(conn, http.StatusBadRequest)
		return
	}
	hostport := req.URL.Host
	if req.URL.Port() == "" {
		hostport = net.JoinHostPort(req.URL.Hostname(), "80")
	}

	upstream, err := s.dial(context.Background(), log, identity, ext, hostport)
	if err != nil {
		log.WithError(err).Warn("forward dial failed")
		writeStatus(conn, statusForError(err))
		return
	}
	defer upstream.Close()

	req.RequestURI = ""
	req.URL.Scheme = ""
	req.URL.Host = ""
	req.Header.Del("Proxy-Authorization")
	if err := req.Write(upstream); err != nil {
		log.WithError(err).Warn("failed to forward request")
		return
	}
	n, err := io.Copy(conn, upstream)
	if err != nil {
		log.WithError(err).Debug("failed to relay response")
	}
	recordRelayStats(s.opt.ID, RelayStats{UpstreamToClient: n})
}

func writeStatus(conn net.Conn, code int) {
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\n\r\n", code, http.StatusText(code))
}

func writeProxyAuthRequired(conn net.Conn) {
	fmt.Fprintf(conn, "HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: Basic realm=\"vproxy\"\r\n\r\n")
}

func statusForError(err error) int {
	kind, ok := AsKind(err)
	if !ok {
		return http.StatusBadGateway
	}
	switch kind {
	case KindConnectTimeout:
		return http.StatusGatewayTimeout
	case KindDNSFailure, KindConnectRefused, KindBindFailure:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// dialTimeout is used by front-ends that need a bounded DNS resolution
// step distinct from the connect timeout.
const dialTimeout = 5 * time.Second
