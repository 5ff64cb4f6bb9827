package vproxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseExtensionNone(t *testing.T) {
	ext := ParseExtension("plainuser")
	require.Equal(t, ExtNone, ext.Kind)
}

func TestParseExtensionTTL(t *testing.T) {
	ext := ParseExtension("alice-ttl-5")
	require.Equal(t, ExtTTL, ext.Kind)
	require.Equal(t, uint32(5), ext.TTLMax)
}

func TestParseExtensionSession(t *testing.T) {
	ext := ParseExtension("alice-session-12345")
	require.Equal(t, ExtSession, ext.Kind)
	require.Equal(t, uint64(12345), ext.ID)
}

func TestParseExtensionRange(t *testing.T) {
	ext := ParseExtension("alice-range-7")
	require.Equal(t, ExtRange, ext.Kind)
	require.Equal(t, uint64(7), ext.ID)
}

func TestParseExtensionRightmostMarkerWins(t *testing.T) {
	ext := ParseExtension("alice-session-1-ttl-5")
	require.Equal(t, ExtTTL, ext.Kind)
	require.Equal(t, uint32(5), ext.TTLMax)
}

func TestParseExtensionMalformedValueFallsBackToNone(t *testing.T) {
	ext := ParseExtension("alice-ttl-notanumber")
	require.Equal(t, ExtNone, ext.Kind)
}

func TestParseExtensionLongSessionIDIsHashed(t *testing.T) {
	ext := ParseExtension("alice-session-123456789012345678901234567890")
	require.Equal(t, ExtSession, ext.Kind)
	require.NotZero(t, ext.ID)
}

func TestParseExtensionHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("session", "99")
	ext := ParseExtensionHeaders(h)
	require.Equal(t, ExtSession, ext.Kind)
	require.Equal(t, uint64(99), ext.ID)
}

func TestParseExtensionHeadersPriorityOrder(t *testing.T) {
	h := http.Header{}
	h.Set("session", "99")
	h.Set("ttl", "3")
	ext := ParseExtensionHeaders(h)
	require.Equal(t, ExtTTL, ext.Kind)
	require.Equal(t, uint32(3), ext.TTLMax)
}

func TestFxhash64Deterministic(t *testing.T) {
	require.Equal(t, fxhash64(42), fxhash64(42))
	require.NotEqual(t, fxhash64(1), fxhash64(2))
}
