// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/absmach/dispatch/pkg/breaker"
	"github.com/absmach/dispatch/pkg/bridge"
	dispatcherrors "github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/handler"
	"github.com/absmach/dispatch/pkg/metrics"
)

var _ handler.Handler = (*InstrumentedHandler)(nil)

// InstrumentedHandler wraps a handler with metrics instrumentation.
type InstrumentedHandler struct {
	handler handler.Handler
	metrics *metrics.Metrics
	started sync.Map
}

// NewInstrumentedHandler returns h wrapped with m.
func NewInstrumentedHandler(h handler.Handler, m *metrics.Metrics) *InstrumentedHandler {
	return &InstrumentedHandler{handler: h, metrics: m}
}

// OnConnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	h.metrics.ActiveSessions.WithLabelValues(hctx.Route, hctx.Protocol).Inc()
	h.metrics.SessionsTotal.WithLabelValues(hctx.Route, hctx.Protocol, "accepted").Inc()
	h.started.Store(hctx.SessionID, time.Now())

	return h.handler.OnConnect(ctx, hctx)
}

// OnReject implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnReject(ctx context.Context, hctx *handler.Context, reason error) error {
	h.metrics.SessionsTotal.WithLabelValues(hctx.Route, hctx.Protocol, "rejected").Inc()

	return h.handler.OnReject(ctx, hctx, reason)
}

// OnForward implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnForward(ctx context.Context, hctx *handler.Context, payload []byte) error {
	h.metrics.DatagramsForwarded.WithLabelValues(hctx.Route).Inc()
	h.metrics.DatagramSize.WithLabelValues(hctx.Route).Observe(float64(len(payload)))

	return h.handler.OnForward(ctx, hctx, payload)
}

// OnDrop implements handler.Handler with metrics. A drop reporting an
// unreachable target marks its breaker open.
func (h *InstrumentedHandler) OnDrop(ctx context.Context, hctx *handler.Context, target string, reason error) error {
	switch {
	case errors.Is(reason, dispatcherrors.ErrTargetUnreachable):
		h.metrics.DatagramsDropped.WithLabelValues(hctx.Route, "unreachable").Inc()
		h.metrics.CircuitBreakerState.WithLabelValues(target).Set(float64(breaker.StateOpen))
		h.metrics.CircuitBreakerTrips.WithLabelValues(target).Inc()
	case errors.Is(reason, bridge.ErrQueueFull):
		h.metrics.DatagramsDropped.WithLabelValues(hctx.Route, "queue_full").Inc()
	default:
		h.metrics.DatagramsDropped.WithLabelValues(hctx.Route, "refused").Inc()
	}

	return h.handler.OnDrop(ctx, hctx, target, reason)
}

// OnDisconnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	h.metrics.ActiveSessions.WithLabelValues(hctx.Route, hctx.Protocol).Dec()
	if v, ok := h.started.LoadAndDelete(hctx.SessionID); ok {
		d := time.Since(v.(time.Time)).Seconds()
		h.metrics.SessionDuration.WithLabelValues(hctx.Route, hctx.Protocol).Observe(d)
	}

	return h.handler.OnDisconnect(ctx, hctx)
}
