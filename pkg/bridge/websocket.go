// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	dispatcherrors "github.com/absmach/dispatch/pkg/errors"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	wsWriteWait         = time.Second
	wsReadHeaderTimeout = 10 * time.Second
)

// DatagramToWebSocket broadcasts every datagram received on Source to every
// WebSocket client upgraded on Destination at Path, one binary message per
// datagram.
func (b *Bridge) DatagramToWebSocket(ctx context.Context) error {
	conn, err := b.bindSource(ctx)
	if err != nil {
		return b.finish(ctx, err)
	}
	ln, err := b.listenTCP(ctx, b.config.Destination)
	if err != nil {
		conn.Close()
		return b.finish(ctx, err)
	}

	h := newHub(conn, b.config.Source, b.config.BufferSize, b.config.Handler, b.config.Logger)

	// Upgraded connections are hijacked, so Shutdown does not wait for them.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	upgrader := websocket.Upgrader{
		WriteBufferSize: b.config.BufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc(b.config.Path, func(w http.ResponseWriter, r *http.Request) {
		b.serveWebSocket(connCtx, h, &upgrader, w, r)
	})
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: wsReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(b.config.Logger.Handler(), slog.LevelDebug),
	}

	b.markReady(conn.LocalAddr(), ln.Addr())
	b.config.Logger.Info("WebSocket bridge started",
		slog.String("bridge", b.config.Name),
		slog.String("address", ln.Addr().String()),
		slog.String("path", b.config.Path))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.run(gctx)
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return dispatcherrors.Loop("serve", b.config.Destination, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		b.config.Logger.Info("shutdown signal received, closing WebSocket server",
			slog.String("bridge", b.config.Name))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			b.config.Logger.Error("error during shutdown", slog.String("error", err.Error()))
		}
		return b.drain(func() bool {
			return b.waitSessions(b.config.ShutdownTimeout)
		}, connCancel)
	})
	return b.finish(ctx, g.Wait())
}

func (b *Bridge) serveWebSocket(ctx context.Context, h *hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	s := b.newSession(nil, b.dstAddr.String(), r.RemoteAddr, "ws")
	if err := b.admit(r.Context(), s); err != nil {
		http.Error(w, "session limit reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.limiter.Release()
		b.config.Logger.Debug("websocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	s.conn = ws

	b.runSession(ctx, s, func(ctx context.Context) error {
		return b.webSocketSubscriber(ctx, h, ws, s)
	})
}

// webSocketSubscriber copies the session's hub queue to ws, one binary
// message per datagram.
func (b *Bridge) webSocketSubscriber(ctx context.Context, h *hub, ws *websocket.Conn, s *Session) error {
	sub, err := h.subscribe(s.Context, b.config.QueueSize)
	if err != nil {
		return err
	}
	defer h.unsubscribe(sub)

	// Reading processes control frames; it fails once the client leaves.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	goingAway := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge stopped")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	}

	for {
		select {
		case <-ctx.Done():
			goingAway()
			return nil
		case <-gone:
			return nil
		case payload, ok := <-sub.c:
			if !ok {
				goingAway()
				return nil
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return dispatcherrors.Loop("write", s.RemoteAddr(), err)
			}
			b.forwarded(ctx, s, payload)
		}
	}
}
