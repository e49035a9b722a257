// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/absmach/dispatch"
	"github.com/absmach/dispatch/pkg/bridge"
	"github.com/absmach/dispatch/pkg/proxy"
	"github.com/absmach/dispatch/pkg/socket"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envPrefix        = "DISPATCH_"
	clientPrefix     = "DISPATCH_CLIENT_"
	serverPrefix     = "DISPATCH_SERVER_"
	forwardPrefix    = "DISPATCH_FORWARD_"
	udpTCPPrefix     = "DISPATCH_UDP_TCP_"
	tcpUDPPrefix     = "DISPATCH_TCP_UDP_"
	udpUDPPrefix     = "DISPATCH_UDP_UDP_"
	tcpDialUDPPrefix = "DISPATCH_TCP_DIAL_UDP_"
	udpWSPrefix      = "DISPATCH_UDP_WS_"
)

var bridgePrefixes = []struct {
	mode   bridge.Mode
	prefix string
}{
	{bridge.UDPToTCP, udpTCPPrefix},
	{bridge.TCPToUDP, tcpUDPPrefix},
	{bridge.UDPToUDP, udpUDPPrefix},
	{bridge.TCPDialToUDP, tcpDialUDPPrefix},
	{bridge.UDPToWebSocket, udpWSPrefix},
}

func runCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every service configured in the environment",
		Long: `run starts every service whose DISPATCH_<SERVICE>_LISTEN or
DISPATCH_<SERVICE>_SOURCE variable is set. Variables are read from the
process environment and from an optional .env file.`,
		Example: `  DISPATCH_FORWARD_LISTEN=0.0.0.0:8890 DISPATCH_FORWARD_TARGETS=127.0.0.1:8891 dispatch run
  dispatch run --env-file /etc/dispatch/dispatch.env`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFile)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "File with DISPATCH_* variables")

	return cmd
}

func run(ctx context.Context, envFile string) error {
	envErr := godotenv.Load(envFile)

	gcfg, err := dispatch.NewGlobalConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		return fmt.Errorf("failed to load global configuration: %w", err)
	}

	rt := newRuntime(setupLogger(os.Stderr, gcfg.LogLevel, gcfg.LogFormat), gcfg.MetricsAddress, gcfg.HealthAddress, gcfg.HealthCacheTTL)
	if envErr != nil {
		rt.logger.Warn("env file not loaded", slog.String("path", envFile), slog.String("error", envErr.Error()))
	}

	services, err := buildServices(ctx, rt)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return fmt.Errorf("no service configured: set DISPATCH_<SERVICE>_LISTEN or DISPATCH_<SERVICE>_SOURCE")
	}

	return rt.execute(ctx, services...)
}

// buildServices builds every enabled service. Bridges share one reverse
// service.
func buildServices(ctx context.Context, rt *runtime) ([]proxy.Service, error) {
	var services []proxy.Service

	cfg, ok, err := loadConfig(rt, "client", clientPrefix)
	if err != nil {
		return nil, err
	}
	if ok {
		c, err := proxy.NewClient(ctx, proxy.ClientConfig{
			Path:            cfg.Source,
			Targets:         cfg.Targets,
			Tee:             cfg.Tee,
			BufferSize:      cfg.BufferSize,
			MaxSendFailures: cfg.MaxSendFailures,
			Socket:          newSocketFactory(cfg, rt.logger),
			Handler:         rt.handler,
			Metrics:         rt.metrics,
			Logger:          rt.logger,
		})
		if err != nil {
			return nil, err
		}
		services = append(services, c)
	}

	cfg, ok, err = loadConfig(rt, "server", serverPrefix)
	if err != nil {
		return nil, err
	}
	if ok {
		s, err := proxy.NewServer(ctx, proxy.ServerConfig{
			Listen:     cfg.Listen,
			LogPath:    cfg.LogPath,
			Tee:        cfg.Tee,
			BufferSize: cfg.BufferSize,
			Socket:     newSocketFactory(cfg, rt.logger),
			Handler:    rt.handler,
			Metrics:    rt.metrics,
			Logger:     rt.logger,
		})
		if err != nil {
			return nil, err
		}
		services = append(services, s)
	}

	cfg, ok, err = loadConfig(rt, "forward", forwardPrefix)
	if err != nil {
		return nil, err
	}
	if ok {
		f, err := proxy.NewForward(ctx, proxy.ForwardConfig{
			Listen:          cfg.Listen,
			Targets:         cfg.Targets,
			Tee:             cfg.Tee,
			BufferSize:      cfg.BufferSize,
			MaxSendFailures: cfg.MaxSendFailures,
			Socket:          newSocketFactory(cfg, rt.logger),
			Handler:         rt.handler,
			Metrics:         rt.metrics,
			Logger:          rt.logger,
		})
		if err != nil {
			return nil, err
		}
		services = append(services, f)
	}

	var bridges []bridge.Config
	for _, bp := range bridgePrefixes {
		cfg, ok, err := loadConfig(rt, string(bp.mode), bp.prefix)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		bridges = append(bridges, bridge.Config{
			Name:            string(bp.mode),
			Mode:            bp.mode,
			Source:          cfg.Source,
			Destination:     cfg.Destination,
			Path:            cfg.WSPath,
			BufferSize:      cfg.BufferSize,
			QueueSize:       cfg.QueueSize,
			MaxSessions:     cfg.MaxSessions,
			AcquireTimeout:  cfg.AcquireTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
			MaxSendFailures: cfg.MaxSendFailures,
			Socket:          newSocketFactory(cfg, rt.logger),
			Handler:         rt.handler,
			Logger:          rt.logger,
		})
	}
	if len(bridges) > 0 {
		r, err := proxy.NewReverse(proxy.ReverseConfig{
			Bridges: bridges,
			Metrics: rt.metrics,
			Logger:  rt.logger,
		})
		if err != nil {
			return nil, err
		}
		services = append(services, r)
	}

	return services, nil
}

// loadConfig reads the configuration of one service and reports whether the
// service is enabled.
func loadConfig(rt *runtime, name, prefix string) (dispatch.Config, bool, error) {
	cfg, err := dispatch.NewConfig(env.Options{Prefix: prefix})
	if err != nil {
		return dispatch.Config{}, false, fmt.Errorf("failed to load %s configuration: %w", name, err)
	}
	if !cfg.Enabled() {
		rt.logger.Info(name+" not started", slog.String("reason", "no "+prefix+"LISTEN or "+prefix+"SOURCE"))
		return cfg, false, nil
	}
	return cfg, true, nil
}

func newSocketFactory(cfg dispatch.Config, logger *slog.Logger) *socket.Factory {
	return socket.New(socket.Config{
		MaxInterfaceProbes: cfg.MaxInterfaceProbes,
		ReadBufferSize:     cfg.ReadBufferSize,
		WriteBufferSize:    cfg.WriteBufferSize,
		Logger:             logger,
	})
}
