// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler defines the lifecycle hooks relay loops and bridges report to.
//
// # Events
//
//	OnConnect     loop started receiving / bridge session admitted
//	OnReject      bridge connection refused by the session bound
//	OnForward     payload handed to every target
//	OnDrop        payload not delivered to one target (refused, queue full)
//	OnDisconnect  loop or session ended
//
// Hooks are observers. They are called on the datagram path, so they must
// be fast and must not retain the payload slice.
//
// # Context
//
// The Context struct identifies the source of an event:
//   - SessionID: Unique identifier (uuid) for the loop or session
//   - Route: Relay or bridge name (client, server, forward, udp-tcp, ...)
//   - LocalAddr: Listen address or source path
//   - RemoteAddr: Peer address for bridge sessions
//   - Protocol: udp, tcp, ws or file
//
// # Example
//
//	h := handler.NewLogging(logger)
//	loop := relay.NewLoop(relay.LoopConfig{..., Handler: h})
package handler
