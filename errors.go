package vproxy

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a proxy error per the taxonomy the front-ends use to
// pick a wire-level response (HTTP status code or SOCKS5 REP byte).
type Kind int

const (
	// KindAuthRequired means credentials were missing or did not match
	// the configured user/pass.
	KindAuthRequired Kind = iota
	// KindProtocolError means the client sent a malformed HTTP or SOCKS5
	// message.
	KindProtocolError
	// KindUnsupportedCommand means a SOCKS5 BIND or UDP ASSOCIATE was
	// requested; only CONNECT is supported.
	KindUnsupportedCommand
	// KindDNSFailure means domain resolution for the upstream target
	// failed.
	KindDNSFailure
	// KindConnectTimeout means the upstream dial exceeded the configured
	// connect timeout.
	KindConnectTimeout
	// KindConnectRefused means the kernel returned ECONNREFUSED.
	KindConnectRefused
	// KindBindFailure means the local bind to the allocated source IP
	// failed.
	KindBindFailure
	// KindRelayError means a mid-stream I/O error occurred after the
	// tunnel was established.
	KindRelayError
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "auth-required"
	case KindProtocolError:
		return "protocol-error"
	case KindUnsupportedCommand:
		return "unsupported-command"
	case KindDNSFailure:
		return "dns-failure"
	case KindConnectTimeout:
		return "connect-timeout"
	case KindConnectRefused:
		return "connect-refused"
	case KindBindFailure:
		return "bind-failure"
	case KindRelayError:
		return "relay-error"
	default:
		return "unknown"
	}
}

// Error is the typed error every core component returns. The Kind
// determines the wire-level response a front-end sends; Cause carries
// the underlying error for logging and is never shown to the client.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// newError wraps cause with errors.Wrap (preserving a stack trace for
// diagnostic logging) and tags it with kind.
func newError(kind Kind, cause error, msg string) *Error {
	if cause != nil && msg != "" {
		cause = errors.Wrap(cause, msg)
	} else if cause == nil {
		cause = errors.New(msg)
	}
	return &Error{Kind: kind, Cause: cause}
}

// AsKind returns the Kind carried by err if it (or something it wraps)
// is a *Error, and ok=false otherwise.
func AsKind(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
