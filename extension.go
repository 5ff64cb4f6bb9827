package vproxy

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ExtKind tags which affinity directive an Extension carries.
type ExtKind int

const (
	// ExtNone means no affinity directive was present; the allocator
	// draws a uniformly random address.
	ExtNone ExtKind = iota
	// ExtTTL rotates the assigned address every N hits per identity.
	ExtTTL
	// ExtSession pins the assigned address deterministically to a
	// session id for the lifetime of the process.
	ExtSession
	// ExtRange pins the assigned address to a sub-block of the CIDR
	// selected by a range id, randomizing within that sub-block.
	ExtRange
)

// Extension is the parsed affinity directive extracted from a proxy
// credential or header, per spec §4.1.
type Extension struct {
	Kind ExtKind
	// TTLMax is the hit budget for ExtTTL.
	TTLMax uint32
	// ID is the session or range identifier for ExtSession/ExtRange.
	ID uint64
}

const (
	markerTTL     = "ttl"
	markerSession = "session"
	markerRange   = "range"
)

// ParseExtension scans credential for a trailing "-<marker>-<value>"
// directive. Per spec §4.1, when multiple markers appear the rightmost
// one wins: tokens are scanned back-to-front and the first recognized
// marker immediately followed (in the original string) by a decimal
// value is the active extension; a marker whose value fails to parse is
// skipped and the scan continues leftwards. A credential with no
// recognized marker followed by a parseable value yields ExtNone.
func ParseExtension(credential string) Extension {
	tokens := strings.Split(credential, "-")
	for i := len(tokens) - 2; i >= 0; i-- {
		marker := tokens[i]
		value := tokens[i+1]
		switch marker {
		case markerTTL:
			if n, err := strconv.ParseUint(value, 10, 32); err == nil {
				return Extension{Kind: ExtTTL, TTLMax: uint32(n)}
			}
		case markerSession:
			if id, ok := parseID(value); ok {
				return Extension{Kind: ExtSession, ID: id}
			}
		case markerRange:
			if id, ok := parseID(value); ok {
				return Extension{Kind: ExtRange, ID: id}
			}
		}
	}
	return Extension{Kind: ExtNone}
}

// parseID accepts a decimal string of any length (spec §4.1: "any
// length accepted, longer inputs are reduced by a stable 64-bit hash")
// and returns a 64-bit id.
func parseID(value string) (uint64, bool) {
	if value == "" {
		return 0, false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	if n, err := strconv.ParseUint(value, 10, 64); err == nil {
		return n, true
	}
	// Longer than 64 bits: reduce with a stable hash of the digit string.
	return xxhash.Sum64String(value), true
}

// Header names examined, in priority order, when the front-end is not
// configured with a required username/password (spec §4.1).
var extensionHeaders = []struct {
	name string
	kind ExtKind
}{
	{"ttl", ExtTTL},
	{"session", ExtSession},
	{"range", ExtRange},
}

// ParseExtensionHeaders examines the ttl/session/range headers in that
// priority order and returns the first present one whose value parses
// by the same rules as a credential suffix value; a header whose value
// fails to parse is skipped.
func ParseExtensionHeaders(h http.Header) Extension {
	for _, eh := range extensionHeaders {
		v := strings.TrimSpace(h.Get(eh.name))
		if v == "" {
			continue
		}
		switch eh.kind {
		case ExtTTL:
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				return Extension{Kind: ExtTTL, TTLMax: uint32(n)}
			}
		case ExtSession:
			if id, ok := parseID(v); ok {
				return Extension{Kind: ExtSession, ID: id}
			}
		case ExtRange:
			if id, ok := parseID(v); ok {
				return Extension{Kind: ExtRange, ID: id}
			}
		}
	}
	return Extension{Kind: ExtNone}
}

// fxhash64 is the stable 64-bit hash used to derive host bits for
// ExtSession, per spec §4.2 ("any stable 64-bit hash may substitute").
func fxhash64(id uint64) uint64 {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (8 * i))
	}
	return xxhash.Sum64(buf[:])
}
