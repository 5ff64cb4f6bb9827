package vproxy

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net"

	"github.com/pkg/errors"
)

// CIDR is a contiguous IP address block: a network address plus a
// prefix length. IPv4 prefixes run 0..32, IPv6 prefixes run 0..128.
type CIDR struct {
	Network net.IP
	Prefix  int
	IPv6    bool
}

// ParseCIDR parses a string in "a.b.c.d/n" or "host:..::/n" form into a
// CIDR, normalizing the network address to its base (masked) form.
func ParseCIDR(s string) (CIDR, error) {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return CIDR{}, errors.Wrapf(err, "invalid cidr %q", s)
	}
	ones, bits := ipnet.Mask.Size()
	isV6 := bits == 128
	network := ipnet.IP
	if isV6 {
		network = network.To16()
	} else {
		network = network.To4()
	}
	if network == nil {
		return CIDR{}, fmt.Errorf("invalid cidr %q: could not normalize address %v", s, ip)
	}
	return CIDR{Network: network, Prefix: ones, IPv6: isV6}, nil
}

// addressWidth returns 32 for IPv4 and 128 for IPv6.
func (c CIDR) addressWidth() int {
	if c.IPv6 {
		return 128
	}
	return 32
}

// Contains reports whether ip lies within c.
func (c CIDR) Contains(ip net.IP) bool {
	mask := net.CIDRMask(c.Prefix, c.addressWidth())
	ipnet := &net.IPNet{IP: c.Network, Mask: mask}
	return ipnet.Contains(ip)
}

func (c CIDR) String() string {
	return fmt.Sprintf("%s/%d", c.Network, c.Prefix)
}

// networkInt returns the network address as a big.Int of addressWidth() bits.
func (c CIDR) networkInt() *big.Int {
	return new(big.Int).SetBytes(c.Network)
}

// intToIP converts a big.Int host value back to a net.IP of the CIDR's
// address family, zero-padded on the left.
func (c CIDR) intToIP(v *big.Int) net.IP {
	byteLen := c.addressWidth() / 8
	b := v.Bytes()
	if len(b) > byteLen {
		b = b[len(b)-byteLen:]
	}
	out := make([]byte, byteLen)
	copy(out[byteLen-len(b):], b)
	return net.IP(out)
}

// randomHostBits returns a uniformly random value in [0, 2^n).
func randomHostBits(n int) *big.Int {
	if n <= 0 {
		return big.NewInt(0)
	}
	max := new(big.Int).Lsh(big.NewInt(1), uint(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand.Reader failing is not recoverable in a way that
		// preserves the uniformity guarantee; zero is a safe (if
		// non-random) value rather than panicking mid-relay.
		Log.WithError(err).Error("crypto/rand unavailable, using zero host bits")
		return big.NewInt(0)
	}
	return v
}

// randomAddress draws a uniformly random address within c.
func (c CIDR) randomAddress() net.IP {
	hostBits := c.addressWidth() - c.Prefix
	host := randomHostBits(hostBits)
	network := c.networkInt()
	ip := new(big.Int).Or(network, host)
	return c.intToIP(ip)
}

// subBlock partitions c into 2^(rangeWidth-Prefix) equally sized
// sub-blocks of prefix length rangeWidth and returns the network address
// (as a big.Int) of the sub-block selected by the low
// (rangeWidth-Prefix) bits of id, together with the number of free host
// bits within that sub-block.
func (c CIDR) subBlock(rangeWidth int, id uint64) (*big.Int, int) {
	width := c.addressWidth()
	deltaBits := rangeWidth - c.Prefix
	var subnetPart *big.Int
	if deltaBits <= 0 {
		subnetPart = big.NewInt(0)
	} else {
		mask := uint64(1)<<uint(deltaBits) - 1
		idx := id & mask
		subnetPart = new(big.Int).Lsh(new(big.Int).SetUint64(idx), uint(width-rangeWidth))
	}
	subnetMaskBits := width - c.Prefix
	subnetMask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(subnetMaskBits)), big.NewInt(1))
	subnetMask = subnetMask.Not(subnetMask)
	// Clip to addressWidth bits (big.Int.Not is unbounded in magnitude).
	subnetMask = maskToWidth(subnetMask, width)
	fixed := new(big.Int).And(c.networkInt(), subnetMask)
	fixed.Or(fixed, subnetPart)
	return fixed, width - rangeWidth
}

// maskToWidth clamps v to its low `width` bits, interpreting negative
// big.Ints (from Not) as their two's-complement representation over
// `width` bits.
func maskToWidth(v *big.Int, width int) *big.Int {
	mod := new(big.Int).Lsh(big.NewInt(1), uint(width))
	out := new(big.Int).Mod(v, mod)
	if out.Sign() < 0 {
		out.Add(out, mod)
	}
	return out
}

// hashToHostBig masks a 64-bit hash down to hostBits and returns it as a
// big.Int, zero-extending when hostBits > 64 (spec §4.2/§9).
func hashToHostBig(hash uint64, hostBits int) *big.Int {
	if hostBits <= 0 {
		return big.NewInt(0)
	}
	if hostBits < 64 {
		mask := uint64(1)<<uint(hostBits) - 1
		return new(big.Int).SetUint64(hash & mask)
	}
	return new(big.Int).SetUint64(hash)
}

// newBigOr returns a | b as a new big.Int, leaving both operands intact.
func newBigOr(a, b *big.Int) *big.Int {
	return new(big.Int).Or(a, b)
}
