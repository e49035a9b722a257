// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"io"
	"log/slog"
	"net"

	"github.com/absmach/dispatch/pkg/addr"
	"github.com/absmach/dispatch/pkg/handler"
	"github.com/absmach/dispatch/pkg/health"
	"github.com/absmach/dispatch/pkg/metrics"
	"github.com/absmach/dispatch/pkg/relay"
	"github.com/absmach/dispatch/pkg/socket"
)

// ForwardConfig holds configuration for the forwarder.
type ForwardConfig struct {
	// Name labels logs, metrics and health checks. If empty, "forward".
	Name string

	// Listen are the UDP listen addresses. Each gets its own loop.
	Listen []string

	// Targets are the downstream UDP addresses, in fan-out order.
	Targets []string

	// Tee copies every forwarded datagram to Stdout.
	Tee bool

	// Stdout is the tee destination. If nil, os.Stdout.
	Stdout io.Writer

	BufferSize      int
	MaxSendFailures int

	Socket  *socket.Factory
	Handler handler.Handler
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Forward relays datagrams from every listen address to every target.
type Forward struct {
	config ForwardConfig
	addrs  []net.Addr
	tasks  []task
	tee    io.Closer
}

// NewForward binds one listener and builds one target pool per listen
// address. Every failure is a configuration error and nothing is left open.
func NewForward(ctx context.Context, cfg ForwardConfig) (*Forward, error) {
	if cfg.Name == "" {
		cfg.Name = "forward"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Socket == nil {
		cfg.Socket = socket.New(socket.Config{Logger: cfg.Logger})
	}

	routes := relay.Routes(cfg.Name, cfg.Listen, cfg.Targets, cfg.Tee)
	if len(routes) == 0 {
		routes = append(routes, relay.Route{Name: cfg.Name})
	}
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	f := &Forward{config: cfg}
	tee := teeSink(cfg.Tee, cfg.Stdout)
	if tee != nil {
		f.tee = tee
	}

	var opened []io.Closer
	fail := func(err error) (*Forward, error) {
		if f.tee != nil {
			opened = append(opened, f.tee)
		}
		closeAll(opened...)
		return nil, err
	}

	for _, r := range routes {
		listen, err := addr.Resolve(ctx, r.Listen)
		if err != nil {
			return fail(err)
		}
		conn, err := cfg.Socket.BindListener(ctx, listen)
		if err != nil {
			return fail(err)
		}
		opened = append(opened, conn)

		pool, err := relay.NewPool(ctx, cfg.Socket, r.Targets)
		if err != nil {
			return fail(err)
		}
		opened = append(opened, pool)
		f.addrs = append(f.addrs, conn.LocalAddr())

		lc := relay.LoopConfig{
			Name:            r.Name,
			Source:          conn,
			SourceAddr:      listen.String(),
			Kind:            relay.SocketSource,
			Pool:            pool,
			BufferSize:      cfg.BufferSize,
			MaxSendFailures: cfg.MaxSendFailures,
			Handler:         cfg.Handler,
			Logger:          cfg.Logger,
		}
		if r.Tee && tee != nil {
			lc.Tee = tee
		}
		loop := relay.NewLoop(lc)
		f.tasks = append(f.tasks, task{
			name:  r.Name + "/" + conn.LocalAddr().String(),
			run:   loop.Run,
			check: loop.Check,
		})

		for _, t := range pool.Targets() {
			cfg.Logger.Info("forwarding",
				slog.String("listen", listen.String()),
				slog.String("target", t.Addr.String()))
		}
	}
	return f, nil
}

// Run relays until ctx is cancelled. A loop that fails stops alone; the
// others keep forwarding.
func (f *Forward) Run(ctx context.Context) error {
	err := runTasks(ctx, f.tasks, f.config.Metrics, f.config.Logger)
	if f.tee != nil {
		if cerr := f.tee.Close(); cerr != nil {
			f.config.Logger.Warn("failed to close tee", slog.String("error", cerr.Error()))
		}
	}
	return err
}

// Checks reports the state of every loop.
func (f *Forward) Checks() map[string]health.CheckFunc { return checks(f.tasks) }

// Addrs returns the bound local address of every listener, in Listen order.
func (f *Forward) Addrs() []net.Addr { return f.addrs }
