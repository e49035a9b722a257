// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/health"
	"github.com/absmach/dispatch/pkg/metrics"
	"github.com/absmach/dispatch/pkg/sink"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Service is a coordinator that runs until its work ends or ctx is cancelled.
type Service interface {
	// Run blocks until every loop or bridge of the service has stopped.
	Run(ctx context.Context) error

	// Checks returns one health check per loop or bridge.
	Checks() map[string]health.CheckFunc
}

var (
	_ Service = (*Client)(nil)
	_ Service = (*Server)(nil)
	_ Service = (*Forward)(nil)
	_ Service = (*Reverse)(nil)
)

// task is one loop or bridge run by a coordinator.
type task struct {
	name  string
	run   func(ctx context.Context) error
	check health.CheckFunc
}

// runTasks runs every task in its own goroutine and waits for all of them.
// A failing task does not stop its siblings; the failures are combined.
func runTasks(ctx context.Context, tasks []task, m *metrics.Metrics, logger *slog.Logger) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			err := observe(m, t.name, func() error { return t.run(ctx) })
			if err != nil {
				logger.Error("task stopped",
					slog.String("name", t.name),
					slog.String("class", errors.ClassOf(err).String()),
					slog.String("error", err.Error()))
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errs
}

func observe(m *metrics.Metrics, name string, f func() error) error {
	if m == nil {
		return f()
	}
	return m.ObserveLoop(name, func(err error) string {
		return errors.ClassOf(err).String()
	}, f)
}

func checks(tasks []task) map[string]health.CheckFunc {
	out := make(map[string]health.CheckFunc, len(tasks))
	for _, t := range tasks {
		out[t.name] = t.check
	}
	return out
}

// teeSink returns the console sink for a tee-enabled service, nil otherwise.
func teeSink(enabled bool, w io.Writer) *sink.Sink {
	switch {
	case !enabled:
		return nil
	case w == nil || w == os.Stdout:
		return sink.Console()
	default:
		return sink.New("tee", w)
	}
}

func closeAll(closers ...io.Closer) error {
	var err error
	for _, c := range closers {
		if c != nil {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
