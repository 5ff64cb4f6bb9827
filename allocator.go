package vproxy

import (
	"net"
	"sync"
	"time"

	"github.com/folbricht/vproxy/internal/ttlstore"
)

// ConnectorConfig holds the immutable settings shared by the Allocator
// and the Binder: the source CIDR, optional sub-range width, fallback
// source, and the connect timeout (spec §3).
type ConnectorConfig struct {
	// CIDR is the block source addresses are drawn from. If nil, the
	// allocator always returns (nil, false): "let the OS choose".
	CIDR *CIDR
	// CIDRRange is the sub-block width used by the Range extension. Nil
	// means no sub-range is configured.
	CIDRRange *int
	// Fallback is the one-shot retry source used by the Binder when
	// binding to the allocated address fails.
	Fallback net.IP
	// ConnectTimeout bounds the upstream dial.
	ConnectTimeout time.Duration
}

// Allocator turns a ConnectorConfig and an Extension into a concrete
// source IP address (spec §4.2).
type Allocator struct {
	cfg   ConnectorConfig
	store ttlstore.Store
	ttlMu sync.Mutex
}

// NewAllocator returns an Allocator. store may be nil, in which case an
// in-process ttlstore.Memory is used (the default per spec §6).
func NewAllocator(cfg ConnectorConfig, store ttlstore.Store) *Allocator {
	if store == nil {
		store = ttlstore.NewMemory()
	}
	return &Allocator{cfg: cfg, store: store}
}

// Allocate returns the source IP to bind for a connection authenticated
// as clientIdentity carrying ext. ok is false, for every extension kind,
// when no CIDR is configured, meaning the Binder should not bind at all
// and let the OS choose the source address.
func (a *Allocator) Allocate(clientIdentity string, ext Extension) (net.IP, bool) {
	if a.cfg.CIDR == nil {
		return nil, false
	}
	cidr := *a.cfg.CIDR
	getVarInt("allocator", extKindName(ext.Kind), "draws").Add(1)

	switch ext.Kind {
	case ExtSession:
		return a.allocateSession(cidr, ext.ID), true
	case ExtRange:
		if a.cfg.CIDRRange == nil || *a.cfg.CIDRRange < cidr.Prefix {
			return cidr.randomAddress(), true
		}
		return a.allocateRange(cidr, *a.cfg.CIDRRange, ext.ID), true
	case ExtTTL:
		return a.allocateTTL(cidr, clientIdentity, ext.TTLMax), true
	default:
		return cidr.randomAddress(), true
	}
}

// allocateSession derives a deterministic address from id: the host
// portion is set to fxhash64(id) & host_mask (spec §4.2). For IPv6 with
// prefix < 64 the high host bits beyond the 64-bit hash are zero, a
// documented trade-off (spec §9).
func (a *Allocator) allocateSession(cidr CIDR, id uint64) net.IP {
	hostBits := cidr.addressWidth() - cidr.Prefix
	hash := fxhash64(id)
	network := cidr.networkInt()
	host := hashToHostBig(hash, hostBits)
	ip := newBigOr(network, host)
	return cidr.intToIP(ip)
}

// allocateRange selects the sub-block of width rangeWidth keyed by the
// low (rangeWidth-Prefix) bits of id, then draws a uniformly random
// address within that sub-block (spec §4.2).
func (a *Allocator) allocateRange(cidr CIDR, rangeWidth int, id uint64) net.IP {
	fixed, hostBits := cidr.subBlock(rangeWidth, id)
	host := randomHostBits(hostBits)
	ip := newBigOr(fixed, host)
	return cidr.intToIP(ip)
}

// allocateTTL implements the rotating assignment of spec §4.2: the
// first call for a (clientIdentity, ttlMax) pair, or any call once the
// hit budget is exhausted, draws a fresh random address and consumes
// one hit of the budget immediately (RemainingHits is set to ttlMax-1,
// not ttlMax), so exactly ttlMax consecutive calls share an address
// before the next draw; otherwise the stored address is returned and
// the budget is decremented. The allocator's own mutex serializes the
// read-decide-write sequence across concurrent callers; the critical
// section performs no I/O for the default Memory store.
func (a *Allocator) allocateTTL(cidr CIDR, clientIdentity string, ttlMax uint32) net.IP {
	a.ttlMu.Lock()
	defer a.ttlMu.Unlock()
	key := ttlstore.Key{Identity: clientIdentity, TTLMax: ttlMax}
	now := time.Now()

	entry, ok, err := a.store.Get(key)
	if err != nil {
		Log.WithError(err).Warn("ttl store read failed, drawing fresh address")
		ok = false
	}
	if !ok || entry.RemainingHits == 0 {
		if ok {
			getVarInt("allocator", "ttl", "rotations").Add(1)
		}
		ip := cidr.randomAddress()
		var remaining uint32
		if ttlMax > 0 {
			remaining = ttlMax - 1
		}
		entry = ttlstore.Entry{IP: ip, RemainingHits: remaining, LastAccessedAt: now}
		if err := a.store.Put(key, entry); err != nil {
			Log.WithError(err).Warn("ttl store write failed")
		}
		return ip
	}

	entry.RemainingHits--
	entry.LastAccessedAt = now
	ip := entry.IP
	if err := a.store.Put(key, entry); err != nil {
		Log.WithError(err).Warn("ttl store write failed")
	}
	return ip
}

// EvictIdle removes TTL entries whose last access predates cutoff,
// implementing the sliding-window eviction policy of SPEC_FULL §4.2.
func (a *Allocator) EvictIdle(cutoff time.Time) error {
	return a.store.EvictIdleSince(cutoff)
}

// extKindName labels the allocator-draws-per-extension-kind counter
// (SPEC_FULL §2.4).
func extKindName(k ExtKind) string {
	switch k {
	case ExtTTL:
		return "ttl"
	case ExtSession:
		return "session"
	case ExtRange:
		return "range"
	default:
		return "none"
	}
}
