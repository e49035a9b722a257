// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main provides the dispatch command: relay byte streams between UDP
// unicast, UDP multicast, TCP and WebSocket endpoints.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/absmach/dispatch/pkg/bridge"
	"github.com/absmach/dispatch/pkg/proxy"
	"github.com/absmach/dispatch/pkg/relay"
	"github.com/absmach/dispatch/pkg/sink"
	"github.com/absmach/dispatch/pkg/socket"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// globalFlags are shared by every subcommand except run, which reads the
// environment instead.
type globalFlags struct {
	logLevel       string
	logFormat      string
	metricsAddress string
	healthAddress  string
}

func (f *globalFlags) runtime() *runtime {
	logger := setupLogger(os.Stderr, f.logLevel, f.logFormat)
	return newRuntime(logger, f.metricsAddress, f.healthAddress, time.Second)
}

// relayFlags are the relay loop settings shared by client, server and forward.
type relayFlags struct {
	tee                bool
	bufferSize         int
	maxSendFailures    int
	maxInterfaceProbes int
}

func (f *relayFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.tee, "tee", "t", false, "Copy forwarded data to stdout")
	cmd.Flags().IntVar(&f.bufferSize, "buffer-size", relay.DefaultBufferSize, "Receive buffer size in bytes (max 65535)")
	cmd.Flags().IntVar(&f.maxSendFailures, "max-send-failures", 8, "Consecutive refused sends before a target is declared unreachable")
	cmd.Flags().IntVar(&f.maxInterfaceProbes, "max-interface-probes", socket.DefaultMaxInterfaceProbes, "IPv6 multicast interfaces to try")
}

func (f *relayFlags) socket(logger *slog.Logger) *socket.Factory {
	return socket.New(socket.Config{
		MaxInterfaceProbes: f.maxInterfaceProbes,
		Logger:             logger,
	})
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "dispatch - UDP/TCP multicast relay",
		Long: `dispatch streams files and sockets over UDP unicast and multicast,
logs what it receives, forwards datagrams to many targets, and bridges
UDP channels to TCP and WebSocket consumers and back.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "text", "Log format (text, json)")
	pf.StringVar(&g.metricsAddress, "metrics-address", "", "Serve Prometheus metrics on this address")
	pf.StringVar(&g.healthAddress, "health-address", "", "Serve health checks on this address")

	rootCmd.AddCommand(clientCmd(g))
	rootCmd.AddCommand(serverCmd(g))
	rootCmd.AddCommand(forwardCmd(g))
	rootCmd.AddCommand(reverseCmd(g))
	rootCmd.AddCommand(runCmd())

	return rootCmd
}

func clientCmd(g *globalFlags) *cobra.Command {
	var (
		path    string
		targets []string
		rf      relayFlags
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Stream a file or stdin to UDP targets",
		Example: `  dispatch client --path /var/log/syslog --target 127.0.0.1:9920 --target '[::1]:9921'
  dispatch client --path - --target 224.0.0.1:9922 --target '[ff02::1]:9923' --tee >> logfile.log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := g.runtime()
			c, err := proxy.NewClient(cmd.Context(), proxy.ClientConfig{
				Path:            path,
				Targets:         targets,
				Tee:             rf.tee,
				BufferSize:      rf.bufferSize,
				MaxSendFailures: rf.maxSendFailures,
				Socket:          rf.socket(rt.logger),
				Handler:         rt.handler,
				Metrics:         rt.metrics,
				Logger:          rt.logger,
			})
			if err != nil {
				return err
			}
			return rt.execute(cmd.Context(), c)
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", sink.Stdin, `File to stream; "-" reads stdin`)
	cmd.Flags().StringArrayVarP(&targets, "target", "s", nil, "Downstream UDP address (repeatable)")
	rf.register(cmd)
	cmd.MarkFlagRequired("target")

	return cmd
}

func serverCmd(g *globalFlags) *cobra.Command {
	var (
		logPath string
		listen  []string
		rf      relayFlags
	)

	cmd := &cobra.Command{
		Use:     "server",
		Short:   "Listen for UDP datagrams and append them to a log",
		Example: `  dispatch server --path logfile.log --listen 127.0.0.1:9920 --listen '[::1]:9921'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := g.runtime()
			s, err := proxy.NewServer(cmd.Context(), proxy.ServerConfig{
				Listen:     listen,
				LogPath:    logPath,
				Tee:        rf.tee,
				BufferSize: rf.bufferSize,
				Socket:     rf.socket(rt.logger),
				Handler:    rt.handler,
				Metrics:    rt.metrics,
				Logger:     rt.logger,
			})
			if err != nil {
				return err
			}
			return rt.execute(cmd.Context(), s)
		},
	}

	cmd.Flags().StringVarP(&logPath, "path", "p", "", "Append-only log file")
	cmd.Flags().StringArrayVarP(&listen, "listen", "l", nil, "UDP listen address (repeatable)")
	rf.register(cmd)
	cmd.MarkFlagRequired("path")
	cmd.MarkFlagRequired("listen")

	return cmd
}

func forwardCmd(g *globalFlags) *cobra.Command {
	var (
		listen  []string
		targets []string
		rf      relayFlags
	)

	cmd := &cobra.Command{
		Use:     "forward",
		Short:   "Forward UDP datagrams from listen addresses to UDP targets",
		Example: `  dispatch forward --listen 0.0.0.0:8890 --target 127.0.0.1:8891 --target '[ff02::1]:8892'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := g.runtime()
			f, err := proxy.NewForward(cmd.Context(), proxy.ForwardConfig{
				Listen:          listen,
				Targets:         targets,
				Tee:             rf.tee,
				BufferSize:      rf.bufferSize,
				MaxSendFailures: rf.maxSendFailures,
				Socket:          rf.socket(rt.logger),
				Handler:         rt.handler,
				Metrics:         rt.metrics,
				Logger:          rt.logger,
			})
			if err != nil {
				return err
			}
			return rt.execute(cmd.Context(), f)
		},
	}

	cmd.Flags().StringArrayVarP(&listen, "listen", "l", nil, "UDP listen address (repeatable)")
	cmd.Flags().StringArrayVarP(&targets, "target", "s", nil, "Downstream UDP address (repeatable)")
	rf.register(cmd)
	cmd.MarkFlagRequired("listen")

	return cmd
}

func reverseCmd(g *globalFlags) *cobra.Command {
	var (
		cfg                bridge.Config
		maxInterfaceProbes int
	)

	modes := []string{
		string(bridge.UDPToTCP),
		string(bridge.TCPToUDP),
		string(bridge.UDPToUDP),
		string(bridge.TCPDialToUDP),
		string(bridge.UDPToWebSocket),
	}

	cmd := &cobra.Command{
		Use:       "reverse {udp-tcp|tcp-udp|udp-udp|tcp-dial-udp|udp-ws}",
		Short:     "Bridge UDP datagrams to TCP or WebSocket streams and back",
		ValidArgs: modes,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		Example: `  dispatch reverse udp-tcp --source 224.0.0.110:9911 --destination 0.0.0.0:9000
  dispatch reverse tcp-udp --source 0.0.0.0:9000 --destination 127.0.0.1:9001
  dispatch reverse udp-ws --source '[ff02::1]:9920' --destination :8081 --ws-path /stream`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := g.runtime()
			cfg.Mode = bridge.Mode(args[0])
			cfg.Handler = rt.handler
			cfg.Logger = rt.logger
			cfg.Socket = socket.New(socket.Config{
				MaxInterfaceProbes: maxInterfaceProbes,
				Logger:             rt.logger,
			})
			r, err := proxy.NewReverse(proxy.ReverseConfig{
				Bridges: []bridge.Config{cfg},
				Metrics: rt.metrics,
				Logger:  rt.logger,
			})
			if err != nil {
				return err
			}
			return rt.execute(cmd.Context(), r)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Source, "source", "", "Where data enters (host:port)")
	f.StringVar(&cfg.Destination, "destination", "", "Where data leaves (host:port)")
	f.StringVar(&cfg.Path, "ws-path", bridge.DefaultPath, "WebSocket upgrade path (udp-ws)")
	f.IntVar(&cfg.BufferSize, "buffer-size", relay.DefaultBufferSize, "Read buffer size in bytes (max 65535)")
	f.IntVar(&cfg.QueueSize, "queue-size", bridge.DefaultQueueSize, "Per-session datagram queue length")
	f.IntVar(&cfg.MaxSessions, "max-sessions", 0, "Maximum concurrent sessions (0 for no limit)")
	f.DurationVar(&cfg.AcquireTimeout, "acquire-timeout", 0, "How long a new session waits for a free slot")
	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", bridge.DefaultShutdownTimeout, "Session drain timeout")
	f.IntVar(&cfg.MaxSendFailures, "max-send-failures", 8, "Consecutive refused sends before a target is declared unreachable")
	f.IntVar(&maxInterfaceProbes, "max-interface-probes", socket.DefaultMaxInterfaceProbes, "IPv6 multicast interfaces to try")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("destination")

	return cmd
}
