// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/dispatch/pkg/handler"
	"github.com/absmach/dispatch/pkg/health"
	"github.com/absmach/dispatch/pkg/metrics"
	"github.com/absmach/dispatch/pkg/proxy"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// runtime holds what every service of one process shares.
type runtime struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	checker *health.Checker
	handler handler.Handler

	metricsAddress string
	healthAddress  string
}

func newRuntime(logger *slog.Logger, metricsAddress, healthAddress string, cacheTTL time.Duration) *runtime {
	m := metrics.New("dispatch", nil)
	return &runtime{
		logger:         logger,
		metrics:        m,
		checker:        health.NewChecker(cacheTTL),
		handler:        NewInstrumentedHandler(handler.NewLogging(logger), m),
		metricsAddress: metricsAddress,
		healthAddress:  healthAddress,
	}
}

// execute runs services until all of them stop or a shutdown signal
// arrives. The metrics and health endpoints live as long as the services.
func (rt *runtime) execute(ctx context.Context, services ...proxy.Service) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, s := range services {
		for name, check := range s.Checks() {
			rt.checker.Register(name, check)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if rt.metricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error {
			return serveHTTP(ctx, "metrics", rt.metricsAddress, mux, rt.logger)
		})
	}
	if rt.healthAddress != "" {
		g.Go(func() error {
			return serveHTTP(ctx, "health", rt.healthAddress, rt.checker.Mux(), rt.logger)
		})
	}

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, rt.logger)
	})

	g.Go(func() error {
		defer cancel()
		return runServices(ctx, services)
	})

	if err := g.Wait(); err != nil {
		rt.logger.Error("dispatch terminated with error", slog.String("error", err.Error()))
		return err
	}
	rt.logger.Info("dispatch stopped")
	return nil
}

// runServices waits for every service. A failing service does not stop the
// others.
func runServices(ctx context.Context, services []proxy.Service) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, s := range services {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

// serveHTTP serves h on address until ctx is cancelled.
func serveHTTP(ctx context.Context, name, address string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         address,
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting "+name+" server", slog.String("address", address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(name+" server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// StopSignalHandler cancels ctx on SIGINT or SIGTERM.
func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h)
}
