// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
)

// Context describes the relay loop or bridge session an event belongs to.
type Context struct {
	// SessionID is a unique identifier for this loop or session
	SessionID string

	// Route names the relay or bridge that owns the session (client, forward, udp-tcp, ...)
	Route string

	// LocalAddr is the listen address (or source path) the data enters through
	LocalAddr string

	// RemoteAddr is the peer's network address, empty for relay loops
	RemoteAddr string

	// Protocol indicates the session transport (udp, tcp, ws, file)
	Protocol string
}

// Handler receives lifecycle notifications from relay loops and bridges.
//
// Handlers observe; they never alter the payload or the routing decision.
// Errors returned from any method are logged by the caller and otherwise
// ignored, so a failing handler cannot stop data from flowing.
type Handler interface {
	// OnConnect is called once a loop starts receiving or a bridge session
	// has been admitted.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnReject is called when a bridge connection is refused because the
	// session bound was reached.
	OnReject(ctx context.Context, hctx *Context, reason error) error

	// OnForward is called after a payload has been handed to every target.
	// payload must not be retained after the call returns.
	OnForward(ctx context.Context, hctx *Context, payload []byte) error

	// OnDrop is called when a payload was not delivered to target: the
	// target refused it, or a session queue was full.
	OnDrop(ctx context.Context, hctx *Context, target string, reason error) error

	// OnDisconnect is called when the loop or session ends, for any reason.
	OnDisconnect(ctx context.Context, hctx *Context) error
}

// NoopHandler is a Handler implementation that ignores every event.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnReject(ctx context.Context, hctx *Context, reason error) error {
	return nil
}

func (h *NoopHandler) OnForward(ctx context.Context, hctx *Context, payload []byte) error {
	return nil
}

func (h *NoopHandler) OnDrop(ctx context.Context, hctx *Context, target string, reason error) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}
