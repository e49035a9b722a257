// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"log/slog"
	"net"
	"sync"

	dispatcherrors "github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/handler"
)

// hub is the single reader of a broadcast bridge's UDP handle. It copies
// every datagram into the queue of each subscribed session.
type hub struct {
	conn    *net.UDPConn
	addr    string
	bufSize int
	handler handler.Handler
	logger  *slog.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// subscription is one session's view of the hub.
type subscription struct {
	c    chan []byte
	hctx *handler.Context
}

func newHub(conn *net.UDPConn, addr string, bufSize int, h handler.Handler, logger *slog.Logger) *hub {
	return &hub{
		conn:    conn,
		addr:    addr,
		bufSize: bufSize,
		handler: h,
		logger:  logger,
		subs:    make(map[*subscription]struct{}),
	}
}

// subscribe registers a session. It fails once the hub has stopped.
func (h *hub) subscribe(hctx *handler.Context, queueSize int) (*subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, dispatcherrors.Loop("subscribe", h.addr, dispatcherrors.ErrStreamClosed)
	}
	s := &subscription{c: make(chan []byte, queueSize), hctx: hctx}
	h.subs[s] = struct{}{}
	return s, nil
}

// unsubscribe removes a session and closes its queue.
func (h *hub) unsubscribe(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.c)
	}
}

// run reads until ctx is cancelled or the handle fails. On return every
// subscription queue is closed.
func (h *hub) run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		h.conn.Close()
	})
	defer func() {
		stop()
		h.conn.Close()
		h.closeAll()
	}()

	buf := make([]byte, h.bufSize)
	for {
		n, _, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return dispatcherrors.Loop("recv", h.addr, err)
		}
		if n == 0 {
			return dispatcherrors.Loop("recv", h.addr, dispatcherrors.ErrEmptyDatagram)
		}

		// Subscribers only read the copy, so one copy serves them all.
		payload := make([]byte, n)
		copy(payload, buf[:n])
		h.broadcast(ctx, payload)
	}
}

func (h *hub) broadcast(ctx context.Context, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		select {
		case s.c <- payload:
		default:
			if err := h.handler.OnDrop(ctx, s.hctx, s.hctx.RemoteAddr, ErrQueueFull); err != nil {
				h.logger.Error("drop handler error",
					slog.String("session", s.hctx.SessionID),
					slog.String("error", err.Error()))
			}
			h.logger.Debug("session queue full, dropping datagram",
				slog.String("session", s.hctx.SessionID),
				slog.String("remote", s.hctx.RemoteAddr))
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.c)
	}
}
