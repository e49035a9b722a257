// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bridge translates between UDP datagrams and TCP or WebSocket
// streams.
//
// # Modes
//
//	udp-tcp       UDP listen ─→ hub ─→ every TCP client
//	tcp-udp       every TCP client ─→ own send handle ─→ UDP target
//	udp-udp       UDP listen ─→ UDP target
//	tcp-dial-udp  upstream TCP server ─→ UDP target
//	udp-ws        UDP listen ─→ hub ─→ every WebSocket client
//
// # Broadcast
//
// The UDP handle of a broadcast bridge has a single reader, the hub. Each
// session subscribes with its own queue of QueueSize datagrams:
//
//	            ┌──────────┐
//	UDP ──────→ │   hub    │ ──→ queue ──→ session 1 ──→ client
//	            └──────────┘ ──→ queue ──→ session 2 ──→ client
//
// A session whose queue is full misses that datagram (OnDrop with
// ErrQueueFull); the others are not slowed down.
//
// # Sessions
//
// Accepted connections are admitted through a pool.Limiter. With
// MaxSessions reached, a connection waits up to AcquireTimeout and is then
// closed (TCP) or answered with 503 (WebSocket), and OnReject is called.
//
// # Graceful Shutdown
//
// When the context is cancelled the listener closes, the hub stops and
// sessions drain. After ShutdownTimeout the remaining sessions are closed
// and Listen returns ErrShutdownTimeout.
//
// # Example
//
//	b := bridge.New(bridge.Config{
//		Mode:        bridge.UDPToTCP,
//		Source:      "239.0.0.1:5000",
//		Destination: ":9000",
//		MaxSessions: 100,
//	})
//	if err := b.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package bridge
