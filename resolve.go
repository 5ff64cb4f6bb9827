package vproxy

import (
	"context"
	"net"
)

// resolveTarget turns a "host:port" into a resolved "ip:port". If host
// is already an IP literal it is returned unchanged. Otherwise the
// system resolver is used (spec §4.6); when more than one address comes
// back, an IPv6 address is preferred if alloc's CIDR is IPv6, else IPv4,
// else the first result (spec §4.6).
func resolveTarget(ctx context.Context, hostport string, alloc *Allocator) (string, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", err
	}
	if ip := net.ParseIP(host); ip != nil {
		return hostport, nil
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}

	preferV6 := alloc != nil && alloc.cfg.CIDR != nil && alloc.cfg.CIDR.IPv6
	chosen := ips[0]
	for _, ip := range ips {
		isV4 := ip.To4() != nil
		if preferV6 && !isV4 {
			chosen = ip
			break
		}
		if !preferV6 && isV4 {
			chosen = ip
			break
		}
	}
	return net.JoinHostPort(chosen.String(), port), nil
}
