// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd || windows)

package socket

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"syscall"

	"github.com/absmach/dispatch/pkg/addr"
)

const joinBeforeBind = false

const connectMulticast6 = true

func reuseControl(string, string, syscall.RawConn) error { return nil }

func bindGroup4(ctx context.Context, group netip.AddrPort) (*net.UDPConn, error) {
	return listenUDP(ctx, addr.IPv4, group, nil)
}

func bindGroup6(ctx context.Context, group netip.AddrPort, _ int) (*net.UDPConn, error) {
	return listenUDP(ctx, addr.IPv6, group, nil)
}

func isBenignBindError(error) bool { return false }

func isRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
