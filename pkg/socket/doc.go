// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package socket builds the UDP handles used by relays and bridges.
//
// # Listen handles
//
// BindListener binds with SO_REUSEADDR (and SO_REUSEPORT on unix) so several
// relays may share a listen address. Multicast addresses are joined before
// the handle is returned:
//
//	IPv4: bind group:port, join on the unspecified interface
//	IPv6: for idx in Policy.Candidates() (at most MaxInterfaceProbes):
//	        set IPV6_MULTICAST_IF=idx, join group on idx, bind [group%idx]:port
//	        benign error -> next idx, other error -> fail, success -> done
//
// On unix the socket is built with x/sys/unix and bound to the group address
// itself, so a group listener never sees unicast traffic or other groups on
// the same port. Windows binds to the unspecified address and joins after
// bind.
//
// # Send handles
//
// ConnectSender binds an ephemeral port on the unspecified address and
// connects it to the target. Multicast senders join the group with loopback
// enabled so listeners on the same host receive what is sent. On Windows an
// IPv6 multicast sender stays unconnected and names the group on each write.
//
// # Example
//
//	f := socket.New(socket.Config{Logger: logger})
//	a, _ := addr.Resolve(ctx, "224.0.0.1:8890")
//	conn, err := f.BindListener(ctx, a)
package socket
