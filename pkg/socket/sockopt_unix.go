// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// The IPv6 group is joined on the raw socket, before bind.
const joinBeforeBind = true

// IPv6 multicast senders connect to the wildcard with the group's port.
const connectMulticast6 = true

// reuseControl sets SO_REUSEADDR and SO_REUSEPORT so several relays can
// share a listen address.
func reuseControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = setReuse(int(fd))
	})
	if err != nil {
		return err
	}
	return opErr
}

func setReuse(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("set SO_REUSEPORT: %w", err)
	}
	return nil
}

// join6 selects ifindex as the outgoing multicast interface and joins group
// on it.
func join6(fd int, group netip.Addr, ifindex int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_IF, ifindex); err != nil {
		return fmt.Errorf("set IPV6_MULTICAST_IF %d: %w", ifindex, err)
	}
	mreq := &unix.IPv6Mreq{Multiaddr: group.As16(), Interface: uint32(ifindex)}
	if err := unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq); err != nil {
		return fmt.Errorf("join %s on interface %d: %w", group, ifindex, err)
	}
	return nil
}

// bindGroup4 binds a socket to the IPv4 group address itself, so unicast
// and other groups on the same port are not delivered to it.
func bindGroup4(_ context.Context, group netip.AddrPort) (*net.UDPConn, error) {
	return bindGroup(unix.AF_INET, groupSockaddr(group, 0), nil)
}

// bindGroup6 joins group on ifindex and binds to the group address.
func bindGroup6(_ context.Context, group netip.AddrPort, ifindex int) (*net.UDPConn, error) {
	return bindGroup(unix.AF_INET6, groupSockaddr(group, ifindex), func(fd int) error {
		return join6(fd, group.Addr(), ifindex)
	})
}

// bindGroup builds the socket by hand: the standard listener rewrites a
// multicast bind address to the wildcard.
func bindGroup(domain int, sa unix.Sockaddr, setup func(fd int) error) (*net.UDPConn, error) {
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if err := setReuse(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if setup != nil {
		if err := setup(fd); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	// FilePacketConn duplicates fd; file closes ours.
	file := os.NewFile(uintptr(fd), "udp-multicast")
	defer file.Close()
	pc, err := net.FilePacketConn(file)
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn %T", pc)
	}
	return conn, nil
}

// groupSockaddr is the bind address of a group listener. Link-local and
// interface-local IPv6 groups carry ifindex as their scope; without one the
// bind fails, which advances the interface search.
func groupSockaddr(group netip.AddrPort, ifindex int) unix.Sockaddr {
	ip := group.Addr()
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: int(group.Port()), Addr: ip.As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(group.Port()), Addr: ip.As16()}
	if ifindex > 0 && (ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast()) {
		sa.ZoneId = uint32(ifindex)
	}
	return sa
}

// isBenignBindError reports failures that mean "try the next interface".
func isBenignBindError(err error) bool {
	return errors.Is(err, unix.EADDRINUSE) ||
		errors.Is(err, unix.EADDRNOTAVAIL) ||
		errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.ENXIO) ||
		errors.Is(err, unix.EINVAL)
}

// isRefused reports the ICMP port-unreachable report a connected UDP socket
// surfaces on a later send.
func isRefused(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED)
}
