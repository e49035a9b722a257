// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the receive and fan-out loop.
//
// # Lifecycle
//
//	Bound → Receiving → Dispatching → Receiving … → Terminated
//
// A Loop owns its source and its Pool. Each iteration reads one datagram
// (or file chunk) into a BufferSize buffer, writes it to every target in
// pool order, then to the log sink and the tee sink. Sinks flush on every
// write.
//
// # End of stream
//
//	file source:   io.EOF or a zero-byte read ends the loop cleanly;
//	               a chunk that is exactly "\n" is skipped
//	socket source: a zero-byte read is ErrEmptyDatagram
//
// # Send failures
//
// A send refused by the peer (ECONNREFUSED from a connected UDP socket) is
// dropped for that target and counted by the target's breaker. After
// MaxSendFailures consecutive refusals the loop stops with
// ErrTargetUnreachable. Any other send error stops the loop at once.
// Either way only this loop stops; siblings keep running.
package relay
