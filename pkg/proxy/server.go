// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/absmach/dispatch/pkg/addr"
	"github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/handler"
	"github.com/absmach/dispatch/pkg/health"
	"github.com/absmach/dispatch/pkg/metrics"
	"github.com/absmach/dispatch/pkg/relay"
	"github.com/absmach/dispatch/pkg/sink"
	"github.com/absmach/dispatch/pkg/socket"
)

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	// Name labels logs, metrics and health checks. If empty, "server".
	Name string

	// Listen are the UDP listen addresses, unicast or multicast.
	Listen []string

	// LogPath is the append-only log every datagram is written to.
	LogPath string

	// Tee copies every datagram to Stdout.
	Tee bool

	// Stdout is the tee destination. If nil, os.Stdout.
	Stdout io.Writer

	BufferSize int

	Socket  *socket.Factory
	Handler handler.Handler
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server receives datagrams on every listen address and appends them to one
// log file.
type Server struct {
	config ServerConfig
	log    *sink.Sink
	tee    *sink.Sink
	addrs  []net.Addr
	tasks  []task
}

// NewServer resolves and binds every listen address and opens the log.
// Every failure is a configuration error and nothing is left open.
func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "server"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Socket == nil {
		cfg.Socket = socket.New(socket.Config{Logger: cfg.Logger})
	}
	if len(cfg.Listen) == 0 {
		return nil, errors.Config("server", cfg.Name, fmt.Errorf("%w: no listen address", errors.ErrInvalidAddress))
	}

	listen, err := addr.ResolveAll(ctx, cfg.Listen)
	if err != nil {
		return nil, err
	}
	log, err := sink.OpenLog(cfg.LogPath)
	if err != nil {
		return nil, err
	}

	s := &Server{config: cfg, log: log, tee: teeSink(cfg.Tee, cfg.Stdout)}
	var conns []io.Closer
	for _, a := range listen {
		conn, err := cfg.Socket.BindListener(ctx, a)
		if err != nil {
			closeAll(append(conns, log)...)
			return nil, err
		}
		conns = append(conns, conn)
		s.addrs = append(s.addrs, conn.LocalAddr())

		lc := relay.LoopConfig{
			Name:       cfg.Name,
			Source:     conn,
			SourceAddr: a.String(),
			Kind:       relay.SocketSource,
			Log:        log,
			BufferSize: cfg.BufferSize,
			Handler:    cfg.Handler,
			Logger:     cfg.Logger,
		}
		if s.tee != nil {
			lc.Tee = s.tee
		}
		loop := relay.NewLoop(lc)
		s.tasks = append(s.tasks, task{
			name:  cfg.Name + "/" + conn.LocalAddr().String(),
			run:   loop.Run,
			check: loop.Check,
		})

		cfg.Logger.Info("server logging",
			slog.String("listen", a.String()),
			slog.String("log", cfg.LogPath))
	}
	return s, nil
}

// Run receives on every listen address until ctx is cancelled. A failing
// listener stops alone; the others keep logging.
func (s *Server) Run(ctx context.Context) error {
	err := runTasks(ctx, s.tasks, s.config.Metrics, s.config.Logger)
	closers := []io.Closer{s.log}
	if s.tee != nil {
		closers = append(closers, s.tee)
	}
	if cerr := closeAll(closers...); cerr != nil {
		s.config.Logger.Warn("failed to close sinks", slog.String("error", cerr.Error()))
	}
	return err
}

// Checks reports the state of every listener.
func (s *Server) Checks() map[string]health.CheckFunc { return checks(s.tasks) }

// Addrs returns the bound local address of every listener, in Listen order.
func (s *Server) Addrs() []net.Addr { return s.addrs }
