package vproxy

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
)

// SOCKS5 wire constants (RFC 1928 / RFC 1929).
const (
	socksVersion5 = 0x05

	methodNoAuth       = 0x00
	methodUserPass     = 0x02
	methodNoAcceptable = 0xff

	userPassVersion = 0x01
	authSuccess     = 0x00
	authFailure     = 0x01

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	repSucceeded           = 0x00
	repGeneralFailure      = 0x01
	repHostUnreachable     = 0x04
	repConnectionRefused   = 0x05
	repTTLExpired          = 0x06
	repCommandNotSupported = 0x07
)

// Socks5Options configures a Socks5Server front-end (spec §4.6).
type Socks5Options struct {
	ID        string
	Allocator *Allocator
	Binder    *Binder
	// Username/Password, when both set, require the USERNAME/PASSWORD
	// sub-negotiation (RFC 1929) and is the only method offered. When
	// unset, NO_AUTH is the only method offered.
	Username string
	Password string
	// Concurrent bounds simultaneously handled client connections
	// (DefaultConcurrent if <= 0).
	Concurrent int
}

// Socks5Server implements the SOCKS5 front-end: RFC 1928 method
// negotiation, RFC 1929 username/password sub-negotiation, and the
// CONNECT command only.
type Socks5Server struct {
	opt Socks5Options
}

// NewSocks5Server returns a Socks5Server.
func NewSocks5Server(opt Socks5Options) *Socks5Server {
	return &Socks5Server{opt: opt}
}

func (s *Socks5Server) requireAuth() bool {
	return s.opt.Username != "" && s.opt.Password != ""
}

// Serve accepts connections from ln and handles each one until ln is
// closed.
func (s *Socks5Server) Serve(ln net.Listener) error {
	a := NewAcceptor(s.opt.ID, ln, s.opt.Concurrent, s.handleConn)
	return a.Start()
}

func (s *Socks5Server) handleConn(conn net.Conn) {
	defer conn.Close()
	log := Log.WithFields(logrus.Fields{"front-end": "socks5", "id": s.opt.ID, "client": conn.RemoteAddr()})

	identity, ext, err := s.negotiate(conn)
	if err != nil {
		log.WithError(err).Debug("negotiation failed")
		return
	}
	log = log.WithFields(logrus.Fields{"identity": identity, "extension": ext.Kind})

	cmd, hostport, err := readRequest(conn)
	if err != nil {
		log.WithError(err).Debug("malformed request")
		writeReply(conn, repGeneralFailure, nil, 0)
		return
	}
	if cmd != cmdConnect {
		log.WithField("cmd", cmd).Debug("unsupported command")
		writeReply(conn, repCommandNotSupported, nil, 0)
		return
	}

	ctx := context.Background()
	target, err := resolveTarget(ctx, hostport, s.opt.Allocator)
	if err != nil {
		log.WithError(err).Debug("resolution failed")
		writeReply(conn, repHostUnreachable, nil, 0)
		return
	}

	source, _ := s.opt.Allocator.Allocate(identity, ext)
	log.WithField("source-ip", source).WithField("target", target).Debug("dialing upstream")
	upstream, err := s.opt.Binder.Dial(ctx, "tcp", target, source)
	if err != nil {
		log.WithError(err).Warn("connect failed")
		writeReply(conn, repForError(err), nil, 0)
		return
	}
	defer upstream.Close()

	bindIP, bindPort := boundAddr(upstream)
	if err := writeReply(conn, repSucceeded, bindIP, bindPort); err != nil {
		return
	}
	recordRelayStats(s.opt.ID, Relay(conn, upstream))
}

// negotiate performs method selection and, when configured, RFC 1929
// username/password auth, returning the client identity and the parsed
// affinity Extension carried in the username (spec §4.6).
func (s *Socks5Server) negotiate(conn net.Conn) (identity string, ext Extension, err error) {
	var hdr [2]byte
	if _, err = io.ReadFull(conn, hdr[:]); err != nil {
		return "", Extension{}, err
	}
	if hdr[0] != socksVersion5 {
		return "", Extension{}, errors.New("unsupported socks version")
	}
	nmethods := int(hdr[1])
	methods := make([]byte, nmethods)
	if _, err = io.ReadFull(conn, methods); err != nil {
		return "", Extension{}, err
	}

	wantMethod := byte(methodNoAuth)
	if s.requireAuth() {
		wantMethod = methodUserPass
	}
	if !containsByte(methods, wantMethod) {
		_, _ = conn.Write([]byte{socksVersion5, methodNoAcceptable})
		return "", Extension{}, errors.New("client did not offer required auth method")
	}
	if _, err = conn.Write([]byte{socksVersion5, wantMethod}); err != nil {
		return "", Extension{}, err
	}

	if wantMethod == methodNoAuth {
		identity = conn.RemoteAddr().String()
		if host, _, splitErr := net.SplitHostPort(identity); splitErr == nil {
			identity = host
		}
		return identity, Extension{Kind: ExtNone}, nil
	}
	return s.userPassAuth(conn)
}

func (s *Socks5Server) userPassAuth(conn net.Conn) (string, Extension, error) {
	var verAndULen [2]byte
	if _, err := io.ReadFull(conn, verAndULen[:]); err != nil {
		return "", Extension{}, err
	}
	if verAndULen[0] != userPassVersion {
		return "", Extension{}, errors.New("unsupported user/pass sub-negotiation version")
	}
	uname := make([]byte, verAndULen[1])
	if _, err := io.ReadFull(conn, uname); err != nil {
		return "", Extension{}, err
	}
	var plen [1]byte
	if _, err := io.ReadFull(conn, plen[:]); err != nil {
		return "", Extension{}, err
	}
	passwd := make([]byte, plen[0])
	if _, err := io.ReadFull(conn, passwd); err != nil {
		return "", Extension{}, err
	}

	// Password equality is checked first; the username is only handed to
	// the extension parser once the base credential is confirmed (spec
	// §4.6). The username may carry an affinity-marker suffix, so it is
	// matched against configured as a prefix, not full equality.
	user := string(uname)
	ok := string(passwd) == s.opt.Password && identityMatches(user, s.opt.Username)
	if !ok {
		_, _ = conn.Write([]byte{userPassVersion, authFailure})
		return "", Extension{}, newError(KindAuthRequired, nil, "socks5 user/pass mismatch")
	}
	if _, err := conn.Write([]byte{userPassVersion, authSuccess}); err != nil {
		return "", Extension{}, err
	}
	return user, ParseExtension(user), nil
}

// identityMatches reports whether user, once any affinity-marker suffix
// is stripped, equals configured: either an exact match, or a prefix
// match immediately followed by the marker separator.
func identityMatches(user, configured string) bool {
	if configured == "" {
		return false
	}
	if user == configured {
		return true
	}
	if len(user) <= len(configured) || user[:len(configured)] != configured {
		return false
	}
	return user[len(configured)] == '-'
}

func containsByte(bs []byte, b byte) bool {
	for _, x := range bs {
		if x == b {
			return true
		}
	}
	return false
}

// readRequest reads the SOCKS5 request (VER CMD RSV ATYP DST.ADDR
// DST.PORT) and returns the command and a "host:port" string (the host
// is a domain name when ATYP is DOMAINNAME).
func readRequest(conn net.Conn) (cmd byte, hostport string, err error) {
	var hdr [4]byte
	if _, err = io.ReadFull(conn, hdr[:]); err != nil {
		return 0, "", err
	}
	if hdr[0] != socksVersion5 {
		return 0, "", errors.New("unsupported socks version in request")
	}
	cmd = hdr[1]
	atyp := hdr[3]

	var host string
	switch atyp {
	case atypIPv4:
		var b [4]byte
		if _, err = io.ReadFull(conn, b[:]); err != nil {
			return 0, "", err
		}
		host = net.IP(b[:]).String()
	case atypIPv6:
		var b [16]byte
		if _, err = io.ReadFull(conn, b[:]); err != nil {
			return 0, "", err
		}
		host = net.IP(b[:]).String()
	case atypDomain:
		var l [1]byte
		if _, err = io.ReadFull(conn, l[:]); err != nil {
			return 0, "", err
		}
		b := make([]byte, l[0])
		if _, err = io.ReadFull(conn, b); err != nil {
			return 0, "", err
		}
		host = string(b)
	default:
		return 0, "", errors.New("unsupported address type")
	}

	var portBytes [2]byte
	if _, err = io.ReadFull(conn, portBytes[:]); err != nil {
		return 0, "", err
	}
	port := strconv.Itoa(int(binary.BigEndian.Uint16(portBytes[:])))
	return cmd, net.JoinHostPort(host, port), nil
}

// writeReply sends the SOCKS5 reply (VER REP RSV ATYP BND.ADDR
// BND.PORT). bindIP/bindPort report the locally bound address of the
// outbound connection (spec §4.6); a nil bindIP writes the zero IPv4
// address, used for error replies.
func writeReply(conn net.Conn, rep byte, bindIP net.IP, bindPort int) error {
	atyp := byte(atypIPv4)
	addr := net.IPv4zero.To4()
	if bindIP != nil {
		if v4 := bindIP.To4(); v4 != nil {
			addr = v4
		} else {
			atyp = atypIPv6
			addr = bindIP.To16()
		}
	}
	buf := make([]byte, 0, 6+len(addr))
	buf = append(buf, socksVersion5, rep, 0x00, atyp)
	buf = append(buf, addr...)
	buf = append(buf, byte(bindPort>>8), byte(bindPort))
	_, err := conn.Write(buf)
	return err
}

// boundAddr extracts the local IP/port of an established connection.
func boundAddr(conn net.Conn) (net.IP, int) {
	if a, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return a.IP, a.Port
	}
	return nil, 0
}

// repForError maps a Kind-tagged error to a SOCKS5 REP byte (spec §7).
func repForError(err error) byte {
	kind, ok := AsKind(err)
	if !ok {
		return repGeneralFailure
	}
	switch kind {
	case KindConnectTimeout:
		return repTTLExpired
	case KindConnectRefused:
		return repConnectionRefused
	case KindDNSFailure:
		return repHostUnreachable
	case KindBindFailure:
		return repConnectionRefused
	default:
		return repGeneralFailure
	}
}
