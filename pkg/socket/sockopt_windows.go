// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"github.com/absmach/dispatch/pkg/addr"
	"golang.org/x/sys/windows"
)

// Windows cannot join before bind, so the group is joined afterwards.
const joinBeforeBind = false

// Windows cannot connect to the IPv6 wildcard; multicast senders stay
// unconnected and name the group on every write.
const connectMulticast6 = false

func reuseControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
			opErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

func multicast6Control(ifindex int) func(string, string, syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if err := windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_IPV6, windows.IPV6_MULTICAST_IF, ifindex); err != nil {
				opErr = fmt.Errorf("set IPV6_MULTICAST_IF %d: %w", ifindex, err)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}

// Windows rejects binds to multicast addresses; listen on the wildcard instead.
func bindGroup4(ctx context.Context, group netip.AddrPort) (*net.UDPConn, error) {
	return listenUDP(ctx, addr.IPv4, netip.AddrPortFrom(netip.IPv4Unspecified(), group.Port()), reuseControl)
}

func bindGroup6(ctx context.Context, group netip.AddrPort, ifindex int) (*net.UDPConn, error) {
	setIF := multicast6Control(ifindex)
	control := func(network, address string, c syscall.RawConn) error {
		if err := reuseControl(network, address, c); err != nil {
			return err
		}
		return setIF(network, address, c)
	}
	return listenUDP(ctx, addr.IPv6, netip.AddrPortFrom(netip.IPv6Unspecified(), group.Port()), control)
}

func isBenignBindError(err error) bool {
	return errors.Is(err, windows.WSAEADDRINUSE) ||
		errors.Is(err, windows.WSAEADDRNOTAVAIL) ||
		errors.Is(err, windows.WSAEINVAL)
}

// isRefused reports the ICMP port-unreachable report of a connected UDP
// socket, which Windows surfaces as a connection reset.
func isRefused(err error) bool {
	return errors.Is(err, windows.WSAECONNRESET) ||
		errors.Is(err, windows.WSAECONNREFUSED) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
