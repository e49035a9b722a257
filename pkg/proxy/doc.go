// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy provides the coordinators that wire sockets, relay loops,
// sinks and bridges into runnable services.
//
// # Overview
//
//	Client   file or stdin ─→ UDP targets             (one loop)
//	Server   UDP listen ─→ append-only log            (one loop per listen address)
//	Forward  UDP listen ─→ UDP targets                (one loop and pool per listen address)
//	Reverse  bridges (udp-tcp, tcp-udp, udp-udp, ...) (one per bridge config)
//
// # Setup and Run
//
// Every constructor resolves addresses, opens files and binds sockets before
// returning, so configuration errors surface before any goroutine starts and
// leave nothing open:
//
//	srv, err := proxy.NewServer(ctx, proxy.ServerConfig{
//		Listen:  []string{"0.0.0.0:9910", "[ff02::1]:9911"},
//		LogPath: "server.log",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = srv.Run(ctx)
//
// Run starts one goroutine per loop or bridge. A loop that fails stops alone
// while its siblings continue; Run returns once all of them have stopped,
// with their errors combined.
//
// # Health
//
// Checks returns one health.CheckFunc per loop or bridge, named
// "<service>/<bound address>" for loops and by bridge name for bridges.
package proxy
