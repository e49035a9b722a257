// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"io"
	"log/slog"

	"github.com/absmach/dispatch/pkg/handler"
	"github.com/absmach/dispatch/pkg/health"
	"github.com/absmach/dispatch/pkg/metrics"
	"github.com/absmach/dispatch/pkg/relay"
	"github.com/absmach/dispatch/pkg/sink"
	"github.com/absmach/dispatch/pkg/socket"
)

// ClientConfig holds configuration for the client.
type ClientConfig struct {
	// Name labels logs, metrics and health checks. If empty, "client".
	Name string

	// Path is the file to stream. sink.Stdin ("-") reads standard input.
	Path string

	// Targets are the downstream UDP addresses, in fan-out order.
	Targets []string

	// Tee copies every forwarded chunk to Stdout.
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

// Client streams a file or standard input to UDP targets until end-of-file.
type Client struct {
	config ClientConfig
	loop   *relay.Loop
	tee    *sink.Sink
}

// NewClient opens the source and connects a sender to every target. Every
// failure is a configuration error and nothing is left open.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = "client"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Socket == nil {
		cfg.Socket = socket.New(socket.Config{Logger: cfg.Logger})
	}

	src, err := sink.OpenSource(cfg.Path)
	if err != nil {
		return nil, err
	}
	pool, err := relay.NewPool(ctx, cfg.Socket, cfg.Targets)
	if err != nil {
		src.Close()
		return nil, err
	}
	for _, t := range pool.Targets() {
		cfg.Logger.Info("client sending",
			slog.String("source", cfg.Path),
			slog.String("target", t.Addr.String()))
	}

	c := &Client{config: cfg, tee: teeSink(cfg.Tee, cfg.Stdout)}
	lc := relay.LoopConfig{
		Name:            cfg.Name,
		Source:          src,
		SourceAddr:      cfg.Path,
		Kind:            relay.FileSource,
		Pool:            pool,
		BufferSize:      cfg.BufferSize,
		MaxSendFailures: cfg.MaxSendFailures,
		Handler:         cfg.Handler,
		Logger:          cfg.Logger,
	}
	if c.tee != nil {
		lc.Tee = c.tee
	}
	c.loop = relay.NewLoop(lc)
	return c, nil
}

// Run streams the source until end-of-file, a fatal error or cancellation.
// Standard input cannot be interrupted by cancellation while a read is
// pending.
func (c *Client) Run(ctx context.Context) error {
	err := runTasks(ctx, []task{{name: c.config.Name, run: c.loop.Run}}, c.config.Metrics, c.config.Logger)
	if c.tee != nil {
		if cerr := c.tee.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Checks reports the state of the client loop.
func (c *Client) Checks() map[string]health.CheckFunc {
	return map[string]health.CheckFunc{c.config.Name: c.loop.Check}
}

// Loop returns the client's relay loop.
func (c *Client) Loop() *relay.Loop { return c.loop }
