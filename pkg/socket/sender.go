// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"net"

	"github.com/absmach/dispatch/pkg/addr"
)

// Sender is an outbound-only UDP handle pre-associated with one target.
type Sender struct {
	conn   *net.UDPConn
	target addr.SocketAddress
	// dest is set when the handle is not connected.
	dest *net.UDPAddr
}

// NewUnconnectedSender wraps conn so every write names target explicitly.
// ConnectSender uses it where the platform cannot connect a multicast
// handle.
func NewUnconnectedSender(conn *net.UDPConn, target addr.SocketAddress) *Sender {
	return &Sender{conn: conn, target: target, dest: target.UDPAddr()}
}

// Write sends b as one datagram.
func (s *Sender) Write(b []byte) (int, error) {
	if s.dest == nil {
		return s.conn.Write(b)
	}
	return s.conn.WriteToUDP(b, s.dest)
}

// Connected reports whether writes omit the destination address.
func (s *Sender) Connected() bool { return s.dest == nil }

// Target returns the address this sender was built for.
func (s *Sender) Target() addr.SocketAddress { return s.target }

// LocalAddr returns the bound ephemeral address.
func (s *Sender) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close closes the underlying handle.
func (s *Sender) Close() error { return s.conn.Close() }

// IsRefused reports whether err is the port-unreachable report a connected
// UDP handle surfaces on a later write.
func IsRefused(err error) bool { return isRefused(err) }
