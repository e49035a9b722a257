// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"log/slog"
)

var _ Handler = (*Logging)(nil)

// Logging is a Handler that logs every event. Forwarded payloads are
// logged at debug level.
type Logging struct {
	logger *slog.Logger
}

// NewLogging creates a logging handler.
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{
		logger: logger,
	}
}

// OnConnect logs a started loop or admitted session.
func (h *Logging) OnConnect(ctx context.Context, hctx *Context) error {
	h.logger.Info("session started",
		slog.String("session", hctx.SessionID),
		slog.String("route", hctx.Route),
		slog.String("local", hctx.LocalAddr),
		slog.String("remote", hctx.RemoteAddr),
		slog.String("protocol", hctx.Protocol))
	return nil
}

// OnReject logs a refused session.
func (h *Logging) OnReject(ctx context.Context, hctx *Context, reason error) error {
	h.logger.Warn("session rejected",
		slog.String("route", hctx.Route),
		slog.String("remote", hctx.RemoteAddr),
		slog.String("error", reason.Error()))
	return nil
}

// OnForward logs a dispatched payload.
func (h *Logging) OnForward(ctx context.Context, hctx *Context, payload []byte) error {
	h.logger.Debug("payload forwarded",
		slog.String("session", hctx.SessionID),
		slog.String("route", hctx.Route),
		slog.Int("payload_size", len(payload)))
	return nil
}

// OnDrop logs an undelivered payload.
func (h *Logging) OnDrop(ctx context.Context, hctx *Context, target string, reason error) error {
	h.logger.Warn("payload dropped",
		slog.String("session", hctx.SessionID),
		slog.String("route", hctx.Route),
		slog.String("target", target),
		slog.String("error", reason.Error()))
	return nil
}

// OnDisconnect logs the end of a loop or session.
func (h *Logging) OnDisconnect(ctx context.Context, hctx *Context) error {
	h.logger.Info("session ended",
		slog.String("session", hctx.SessionID),
		slog.String("route", hctx.Route),
		slog.String("remote", hctx.RemoteAddr))
	return nil
}
