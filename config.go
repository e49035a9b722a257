// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package dispatch holds the environment configuration shared by the dispatch
// services and command.
package dispatch

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings of one service. Every service reads the same
// fields under its own environment prefix, e.g. DISPATCH_FORWARD_LISTEN.
type Config struct {
	// Listen are the UDP listen addresses of server and forward services.
	Listen []string `env:"LISTEN" envSeparator:","`

	// Targets are the UDP target addresses of client and forward services.
	Targets []string `env:"TARGETS" envSeparator:","`

	// Source is the client's input path ("-" for stdin) or a bridge's source address.
	Source string `env:"SOURCE"`

	// Destination is a bridge's destination address.
	Destination string `env:"DESTINATION"`

	// LogPath is the server's append-only log.
	LogPath string `env:"LOG_PATH"`

	Tee bool `env:"TEE" envDefault:"false"`

	// WSPath is the upgrade path of the udp-ws bridge.
	WSPath string `env:"WS_PATH" envDefault:"/"`

	BufferSize      int `env:"BUFFER_SIZE"       envDefault:"8096"`
	MaxSendFailures int `env:"MAX_SEND_FAILURES" envDefault:"8"`

	// Bridge sessions
	QueueSize       int           `env:"QUEUE_SIZE"       envDefault:"64"`
	MaxSessions     int           `env:"MAX_SESSIONS"     envDefault:"0"`
	AcquireTimeout  time.Duration `env:"ACQUIRE_TIMEOUT"  envDefault:"0s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Sockets
	MaxInterfaceProbes int `env:"MAX_INTERFACE_PROBES" envDefault:"32"`
	ReadBufferSize     int `env:"READ_BUFFER_SIZE"     envDefault:"0"`
	WriteBufferSize    int `env:"WRITE_BUFFER_SIZE"    envDefault:"0"`
}

// NewConfig parses the environment variables selected by opts into a Config.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Enabled reports whether the service has a listen or source address. A
// service without one is not started.
func (c Config) Enabled() bool {
	return len(c.Listen) > 0 || c.Source != ""
}

// GlobalConfig holds the process-wide settings.
type GlobalConfig struct {
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// MetricsAddress serves /metrics. Empty disables the endpoint.
	MetricsAddress string `env:"METRICS_ADDRESS" envDefault:""`

	// HealthAddress serves /health, /ready and /live. Empty disables them.
	HealthAddress string `env:"HEALTH_ADDRESS" envDefault:""`

	// HealthCacheTTL bounds how often each health check runs.
	HealthCacheTTL time.Duration `env:"HEALTH_CACHE_TTL" envDefault:"1s"`
}

// NewGlobalConfig parses the environment variables selected by opts into a
// GlobalConfig.
func NewGlobalConfig(opts env.Options) (GlobalConfig, error) {
	c := GlobalConfig{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return GlobalConfig{}, err
	}
	return c, nil
}
