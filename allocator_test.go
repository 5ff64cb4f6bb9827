package vproxy

import (
	"testing"
	"time"

	"github.com/folbricht/vproxy/internal/ttlstore"
	"github.com/stretchr/testify/require"
)

func mustCIDR(t *testing.T, s string) CIDR {
	t.Helper()
	c, err := ParseCIDR(s)
	require.NoError(t, err)
	return c
}

func TestAllocateNoneDrawsWithinCIDR(t *testing.T) {
	c := mustCIDR(t, "198.51.100.0/24")
	a := NewAllocator(ConnectorConfig{CIDR: &c}, nil)
	ip, ok := a.Allocate("client", Extension{Kind: ExtNone})
	require.True(t, ok)
	require.True(t, c.Contains(ip))
}

func TestAllocateWithoutCIDRReturnsFalse(t *testing.T) {
	a := NewAllocator(ConnectorConfig{}, nil)
	ip, ok := a.Allocate("client", Extension{Kind: ExtNone})
	require.False(t, ok)
	require.Nil(t, ip)
}

func TestAllocateSessionIsDeterministic(t *testing.T) {
	c := mustCIDR(t, "198.51.100.0/24")
	a := NewAllocator(ConnectorConfig{CIDR: &c}, nil)
	ip1, _ := a.Allocate("client", Extension{Kind: ExtSession, ID: 7})
	ip2, _ := a.Allocate("client", Extension{Kind: ExtSession, ID: 7})
	require.Equal(t, ip1.String(), ip2.String())
}

func TestAllocateSessionDiffersByID(t *testing.T) {
	c := mustCIDR(t, "10.0.0.0/8")
	a := NewAllocator(ConnectorConfig{CIDR: &c}, nil)
	ip1, _ := a.Allocate("client", Extension{Kind: ExtSession, ID: 1})
	ip2, _ := a.Allocate("client", Extension{Kind: ExtSession, ID: 2})
	require.NotEqual(t, ip1.String(), ip2.String())
}

func TestAllocateRangeStaysWithinSubBlock(t *testing.T) {
	c := mustCIDR(t, "10.0.0.0/8")
	r := 16
	a := NewAllocator(ConnectorConfig{CIDR: &c, CIDRRange: &r}, nil)
	ip, ok := a.Allocate("client", Extension{Kind: ExtRange, ID: 3})
	require.True(t, ok)
	require.True(t, c.Contains(ip))
	// id 3 selects sub-block 3 of the /16 partition of 10.0.0.0/8.
	sub := mustCIDR(t, "10.3.0.0/16")
	require.True(t, sub.Contains(ip), "address %s not in %s", ip, sub)
}

func TestAllocateRangeWithoutConfiguredWidthFallsBackToRandom(t *testing.T) {
	c := mustCIDR(t, "10.0.0.0/8")
	a := NewAllocator(ConnectorConfig{CIDR: &c}, nil)
	ip, ok := a.Allocate("client", Extension{Kind: ExtRange, ID: 3})
	require.True(t, ok)
	require.True(t, c.Contains(ip))
}

func TestAllocateTTLRotation(t *testing.T) {
	c := mustCIDR(t, "198.51.100.0/24")
	a := NewAllocator(ConnectorConfig{CIDR: &c}, ttlstore.NewMemory())

	// TTLMax=2: exactly 2 consecutive calls share an address, then the
	// 3rd call rotates to a fresh one ([X, X, Y]).
	ip1, _ := a.Allocate("client", Extension{Kind: ExtTTL, TTLMax: 2})
	ip2, _ := a.Allocate("client", Extension{Kind: ExtTTL, TTLMax: 2})
	require.Equal(t, ip1.String(), ip2.String(), "hit budget not yet exhausted")

	ip3, _ := a.Allocate("client", Extension{Kind: ExtTTL, TTLMax: 2})
	require.NotEqual(t, ip2.String(), ip3.String(), "budget exhausted, must rotate")

	ip4, _ := a.Allocate("client", Extension{Kind: ExtTTL, TTLMax: 2})
	require.Equal(t, ip3.String(), ip4.String(), "new budget window not yet exhausted")
}

func TestAllocateTTLDifferentIdentitiesIndependent(t *testing.T) {
	c := mustCIDR(t, "10.0.0.0/8")
	store := ttlstore.NewMemory()
	a := NewAllocator(ConnectorConfig{CIDR: &c}, store)
	ipA, _ := a.Allocate("alice", Extension{Kind: ExtTTL, TTLMax: 1})
	ipB, _ := a.Allocate("bob", Extension{Kind: ExtTTL, TTLMax: 1})
	_ = ipA
	_ = ipB
	// Both must be contained, and each identity gets its own
	// (client_identity, ttl_max) entry in the store.
	require.True(t, c.Contains(ipA))
	require.True(t, c.Contains(ipB))
	require.Equal(t, 2, store.Len())
}

func TestEvictIdle(t *testing.T) {
	c := mustCIDR(t, "198.51.100.0/24")
	store := ttlstore.NewMemory()
	a := NewAllocator(ConnectorConfig{CIDR: &c}, store)
	a.Allocate("client", Extension{Kind: ExtTTL, TTLMax: 5})
	require.Equal(t, 1, store.Len())

	err := a.EvictIdle(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, store.Len())
}
