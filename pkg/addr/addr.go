// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package addr resolves host:port strings into socket addresses.
package addr

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/absmach/dispatch/pkg/errors"
)

// Family is the IP address family of a SocketAddress.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// Network returns the Go network name ("udp4"/"udp6") for the family.
func (f Family) Network(proto string) string {
	if f == IPv6 {
		return proto + "6"
	}
	return proto + "4"
}

// SocketAddress is a resolved IP, port and family. The zero value is invalid.
type SocketAddress struct {
	ap netip.AddrPort
}

// From builds a SocketAddress from a netip.AddrPort.
// IPv4-mapped IPv6 addresses are unmapped.
func From(ap netip.AddrPort) SocketAddress {
	return SocketAddress{ap: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

// FromUDP builds a SocketAddress from a *net.UDPAddr.
func FromUDP(ua *net.UDPAddr) SocketAddress {
	return From(ua.AddrPort())
}

// Unspecified returns the wildcard address of the family with the given port.
func Unspecified(f Family, port uint16) SocketAddress {
	if f == IPv6 {
		return SocketAddress{ap: netip.AddrPortFrom(netip.IPv6Unspecified(), port)}
	}
	return SocketAddress{ap: netip.AddrPortFrom(netip.IPv4Unspecified(), port)}
}

// AddrPort returns the underlying netip.AddrPort.
func (a SocketAddress) AddrPort() netip.AddrPort { return a.ap }

// IP returns the address without the port.
func (a SocketAddress) IP() netip.Addr { return a.ap.Addr() }

// Port returns the port.
func (a SocketAddress) Port() uint16 { return a.ap.Port() }

// Family returns IPv4 or IPv6.
func (a SocketAddress) Family() Family {
	if a.ap.Addr().Is4() {
		return IPv4
	}
	return IPv6
}

// IsMulticast reports whether the IP is in 224.0.0.0/4 or ff00::/8.
func (a SocketAddress) IsMulticast() bool { return a.ap.Addr().IsMulticast() }

// IsValid reports whether the address was resolved.
func (a SocketAddress) IsValid() bool { return a.ap.IsValid() }

// UDPAddr converts to *net.UDPAddr.
func (a SocketAddress) UDPAddr() *net.UDPAddr { return net.UDPAddrFromAddrPort(a.ap) }

// TCPAddr converts to *net.TCPAddr.
func (a SocketAddress) TCPAddr() *net.TCPAddr { return net.TCPAddrFromAddrPort(a.ap) }

func (a SocketAddress) String() string { return a.ap.String() }

// Resolver turns host names into IP addresses.
// *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Resolve resolves s with net.DefaultResolver.
func Resolve(ctx context.Context, s string) (SocketAddress, error) {
	return ResolveWith(ctx, net.DefaultResolver, s)
}

// ResolveWith parses s as host:port or [host]:port and returns the first
// candidate. Literal addresses bypass the resolver.
func ResolveWith(ctx context.Context, r Resolver, s string) (SocketAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return SocketAddress{}, errors.Config("resolve", s, fmt.Errorf("%w: %v", errors.ErrInvalidAddress, err))
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return SocketAddress{}, errors.Config("resolve", s, fmt.Errorf("%w: bad port %q", errors.ErrInvalidAddress, portStr))
	}

	if host == "" {
		return Unspecified(IPv4, uint16(port)), nil
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if ip.Zone() != "" {
			return SocketAddress{}, errors.Config("resolve", s, fmt.Errorf("%w: zoned addresses are not supported", errors.ErrInvalidAddress))
		}
		return From(netip.AddrPortFrom(ip, uint16(port))), nil
	}

	ips, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return SocketAddress{}, errors.Config("resolve", s, fmt.Errorf("%w: %v", errors.ErrInvalidAddress, err))
	}
	if len(ips) == 0 {
		return SocketAddress{}, errors.Config("resolve", s, fmt.Errorf("%w: no candidates", errors.ErrInvalidAddress))
	}

	return From(netip.AddrPortFrom(ips[0], uint16(port))), nil
}

// ResolveAll resolves every entry of list, in order, failing on the first bad one.
func ResolveAll(ctx context.Context, list []string) ([]SocketAddress, error) {
	out := make([]SocketAddress, 0, len(list))
	for _, s := range list {
		a, err := Resolve(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
