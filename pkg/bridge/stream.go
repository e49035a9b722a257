// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/absmach/dispatch/pkg/addr"
	dispatcherrors "github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/relay"
	"golang.org/x/sync/errgroup"
)

// DatagramToStream broadcasts every datagram received on Source to every TCP
// client connected to Destination. A session ends when a write to its client
// fails or the client disconnects; a receive failure stops the bridge.
func (b *Bridge) DatagramToStream(ctx context.Context) error {
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
	b.markReady(conn.LocalAddr(), ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.run(gctx)
	})
	g.Go(func() error {
		return b.serve(gctx, ln, "tcp", func(ctx context.Context, c net.Conn, s *Session) error {
			return b.streamSubscriber(ctx, h, c, s)
		})
	})
	return b.finish(ctx, g.Wait())
}

// streamSubscriber copies the session's hub queue to c.
func (b *Bridge) streamSubscriber(ctx context.Context, h *hub, c net.Conn, s *Session) error {
	sub, err := h.subscribe(s.Context, b.config.QueueSize)
	if err != nil {
		return err
	}
	defer h.unsubscribe(sub)

	// Clients never send; a read returning means they went away.
	gone := make(chan struct{})
	go func() {
		io.Copy(io.Discard, c)
		close(gone)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gone:
			return nil
		case payload, ok := <-sub.c:
			if !ok {
				return nil
			}
			if _, err := c.Write(payload); err != nil {
				return dispatcherrors.Loop("write", s.RemoteAddr(), err)
			}
			b.forwarded(ctx, s, payload)
		}
	}
}

// StreamToDatagram forwards every chunk read from each TCP client connected
// to Source as one datagram to Destination. Each session owns its own send
// handle.
func (b *Bridge) StreamToDatagram(ctx context.Context) error {
	target, err := addr.Resolve(ctx, b.config.Destination)
	if err != nil {
		return b.finish(ctx, err)
	}
	ln, err := b.listenTCP(ctx, b.config.Source)
	if err != nil {
		return b.finish(ctx, err)
	}
	b.markReady(ln.Addr(), nil)

	err = b.serve(ctx, ln, "tcp", func(ctx context.Context, c net.Conn, s *Session) error {
		sender, err := b.config.Socket.ConnectSender(ctx, target)
		if err != nil {
			return err
		}

		cfg := b.loopConfig(b.config.Name)
		cfg.Source = c
		cfg.SourceAddr = s.RemoteAddr()
		cfg.Kind = relay.StreamSource
		cfg.Pool = relay.NewPoolFromTargets(relay.Target{Addr: target, Sender: sender})
		cfg.Session = s.Context
		cfg.Handler = forwardOnly{b.config.Handler}

		err = relay.NewLoop(cfg).Run(ctx)
		if errors.Is(err, dispatcherrors.ErrStreamClosed) {
			return nil
		}
		return err
	})
	return b.finish(ctx, err)
}

func (b *Bridge) forwarded(ctx context.Context, s *Session, payload []byte) {
	if err := b.config.Handler.OnForward(ctx, s.Context, payload); err != nil {
		b.config.Logger.Error("forward handler error",
			slog.String("session", s.ID()),
			slog.String("error", err.Error()))
	}
}
