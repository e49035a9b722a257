// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	dispatcherrors "github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/handler"
	"github.com/google/uuid"
)

// Session is one admitted TCP or WebSocket connection. It owns its stream
// and is destroyed when the connection closes or errors.
type Session struct {
	// Context identifies the session in handler events.
	Context *handler.Context

	conn io.Closer
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.Context.SessionID }

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() string { return s.Context.RemoteAddr }

func (b *Bridge) newSession(conn io.Closer, local, remote, protocol string) *Session {
	return &Session{
		Context: &handler.Context{
			SessionID:  uuid.New().String(),
			Route:      b.config.Name,
			LocalAddr:  local,
			RemoteAddr: remote,
			Protocol:   protocol,
		},
		conn: conn,
	}
}

// sessionFunc serves one admitted connection until it ends or ctx is cancelled.
type sessionFunc func(ctx context.Context, conn net.Conn, s *Session) error

// admit reserves a session slot. On failure the session is rejected and the
// returned error wraps ErrSessionRejected.
func (b *Bridge) admit(ctx context.Context, s *Session) error {
	err := b.limiter.Acquire(ctx)
	if err == nil {
		return nil
	}

	reason := fmt.Errorf("%w: %w", dispatcherrors.ErrSessionRejected, err)
	if herr := b.config.Handler.OnReject(ctx, s.Context, reason); herr != nil {
		b.config.Logger.Error("reject handler error",
			slog.String("session", s.ID()),
			slog.String("error", herr.Error()))
	}
	b.config.Logger.Warn("session rejected",
		slog.String("bridge", b.config.Name),
		slog.String("remote", s.RemoteAddr()),
		slog.String("error", err.Error()))
	return reason
}

// runSession runs handle between the connect and disconnect events and
// releases the session's slot and stream afterwards.
func (b *Bridge) runSession(ctx context.Context, s *Session, handle func(context.Context) error) {
	b.active.Add(1)
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer func() {
		stop()
		s.conn.Close()
		b.active.Add(-1)
		b.limiter.Release()
	}()

	if err := b.config.Handler.OnConnect(ctx, s.Context); err != nil {
		b.config.Logger.Error("connect handler error",
			slog.String("session", s.ID()),
			slog.String("error", err.Error()))
	}
	b.config.Logger.Debug("session started",
		slog.String("bridge", b.config.Name),
		slog.String("session", s.ID()),
		slog.String("remote", s.RemoteAddr()))

	if err := handle(ctx); err != nil && !errors.Is(err, io.EOF) {
		b.config.Logger.Debug("session error",
			slog.String("session", s.ID()),
			slog.String("remote", s.RemoteAddr()),
			slog.String("error", err.Error()))
	}

	if err := b.config.Handler.OnDisconnect(context.Background(), s.Context); err != nil {
		b.config.Logger.Error("disconnect handler error",
			slog.String("session", s.ID()),
			slog.String("error", err.Error()))
	}
	b.config.Logger.Debug("session ended",
		slog.String("bridge", b.config.Name),
		slog.String("session", s.ID()))
}

// listenTCP binds a TCP listener on address.
func (b *Bridge) listenTCP(ctx context.Context, address string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, dispatcherrors.Config("listen", address, err)
	}
	return ln, nil
}

// serve accepts connections on ln until ctx is cancelled, runs each admitted
// one through handle, then drains active sessions.
func (b *Bridge) serve(ctx context.Context, ln net.Listener, protocol string, handle sessionFunc) error {
	b.config.Logger.Info("bridge accepting sessions",
		slog.String("bridge", b.config.Name),
		slog.String("address", ln.Addr().String()),
		slog.Int("max_sessions", b.config.MaxSessions))

	// Sessions outlive ctx until they drain or the shutdown timeout passes.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				b.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
				continue
			}

			s := b.newSession(conn, conn.LocalAddr().String(), conn.RemoteAddr().String(), protocol)
			if err := b.admit(ctx, s); err != nil {
				conn.Close()
				continue
			}

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.runSession(connCtx, s, func(ctx context.Context) error {
					return handle(ctx, conn, s)
				})
			}()
		}
	}()

	<-ctx.Done()
	b.config.Logger.Info("shutdown signal received, closing listener",
		slog.String("bridge", b.config.Name))
	if err := ln.Close(); err != nil {
		b.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	return b.drain(func() bool {
		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return true
		case <-time.After(b.config.ShutdownTimeout):
			return false
		}
	}, connCancel)
}

// drain waits for sessions to end. If wait reports a timeout, the remaining
// sessions are cancelled and ErrShutdownTimeout is returned.
func (b *Bridge) drain(wait func() bool, cancel context.CancelFunc) error {
	if wait() {
		b.config.Logger.Info("all sessions closed gracefully",
			slog.String("bridge", b.config.Name))
		return nil
	}

	b.config.Logger.Warn("shutdown timeout exceeded, forcing session closure",
		slog.String("bridge", b.config.Name),
		slog.Int("sessions", b.Sessions()))
	cancel()

	deadline := time.Now().Add(time.Second)
	for b.Sessions() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	return ErrShutdownTimeout
}

// waitSessions polls until no session is active or timeout passes.
func (b *Bridge) waitSessions(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for b.Sessions() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
	return true
}

// forwardOnly passes payload events through while suppressing connect and
// disconnect, which the owning session already reports.
type forwardOnly struct {
	handler.Handler
}

func (forwardOnly) OnConnect(context.Context, *handler.Context) error { return nil }

func (forwardOnly) OnDisconnect(context.Context, *handler.Context) error { return nil }
