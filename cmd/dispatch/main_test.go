// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/absmach/dispatch/pkg/breaker"
	"github.com/absmach/dispatch/pkg/bridge"
	dispatcherrors "github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/handler"
	"github.com/absmach/dispatch/pkg/metrics"
	"github.com/absmach/dispatch/pkg/proxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentedHandler(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	h := NewInstrumentedHandler(&handler.NoopHandler{}, m)
	ctx := context.Background()
	hctx := &handler.Context{SessionID: "s1", Route: "udp-tcp", Protocol: "tcp"}

	h.OnConnect(ctx, hctx)
	if got := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("udp-tcp", "tcp")); got != 1 {
		t.Errorf("Expected 1 active session, got %v", got)
	}

	h.OnForward(ctx, hctx, []byte("abc"))
	h.OnForward(ctx, hctx, []byte("de"))
	if got := testutil.ToFloat64(m.DatagramsForwarded.WithLabelValues("udp-tcp")); got != 2 {
		t.Errorf("Expected 2 forwarded datagrams, got %v", got)
	}

	h.OnDrop(ctx, hctx, hctx.RemoteAddr, bridge.ErrQueueFull)
	if got := testutil.ToFloat64(m.DatagramsDropped.WithLabelValues("udp-tcp", "queue_full")); got != 1 {
		t.Errorf("Expected 1 queue_full drop, got %v", got)
	}

	h.OnReject(ctx, hctx, dispatcherrors.ErrSessionRejected)
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("udp-tcp", "tcp", "rejected")); got != 1 {
		t.Errorf("Expected 1 rejected session, got %v", got)
	}

	h.OnDisconnect(ctx, hctx)
	if got := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("udp-tcp", "tcp")); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
	if got := testutil.CollectAndCount(m.SessionDuration); got != 1 {
		t.Errorf("Expected 1 duration series, got %d", got)
	}
}

func TestInstrumentedHandler_UnreachableTarget(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	h := NewInstrumentedHandler(&handler.NoopHandler{}, m)
	hctx := &handler.Context{SessionID: "s1", Route: "forward", Protocol: "udp"}

	reason := fmt.Errorf("%w: 8 consecutive refusals", dispatcherrors.ErrTargetUnreachable)
	h.OnDrop(context.Background(), hctx, "127.0.0.1:9", reason)

	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("127.0.0.1:9")); got != float64(breaker.StateOpen) {
		t.Errorf("Expected breaker state %v, got %v", float64(breaker.StateOpen), got)
	}
	if got := testutil.ToFloat64(m.CircuitBreakerTrips.WithLabelValues("127.0.0.1:9")); got != 1 {
		t.Errorf("Expected 1 trip, got %v", got)
	}
	if got := testutil.ToFloat64(m.DatagramsDropped.WithLabelValues("forward", "unreachable")); got != 1 {
		t.Errorf("Expected 1 unreachable drop, got %v", got)
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info record to be filtered, got %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("Expected JSON warn record, got %q", out)
	}
}

func testRuntime(t *testing.T) *runtime {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	m := metrics.New("test", prometheus.NewRegistry())
	return &runtime{
		logger:  logger,
		metrics: m,
		handler: NewInstrumentedHandler(handler.NewLogging(logger), m),
	}
}

func TestBuildServices(t *testing.T) {
	t.Setenv(forwardPrefix+"LISTEN", "127.0.0.1:0")
	t.Setenv(forwardPrefix+"TARGETS", "127.0.0.1:9")
	t.Setenv(udpUDPPrefix+"SOURCE", "127.0.0.1:0")
	t.Setenv(udpUDPPrefix+"DESTINATION", "127.0.0.1:9")
	t.Setenv(tcpUDPPrefix+"SOURCE", "127.0.0.1:0")
	t.Setenv(tcpUDPPrefix+"DESTINATION", "127.0.0.1:9")

	services, err := buildServices(context.Background(), testRuntime(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("Expected forward and reverse services, got %d", len(services))
	}

	f, ok := services[0].(*proxy.Forward)
	if !ok {
		t.Fatalf("Expected *proxy.Forward first, got %T", services[0])
	}
	if got := len(f.Addrs()); got != 1 {
		t.Errorf("Expected 1 forward listen address, got %d", got)
	}

	r, ok := services[1].(*proxy.Reverse)
	if !ok {
		t.Fatalf("Expected *proxy.Reverse second, got %T", services[1])
	}
	if got := len(r.Bridges()); got != 2 {
		t.Errorf("Expected 2 bridges, got %d", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() { done <- runServices(ctx, services) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Services did not stop after cancellation")
	}
}

func TestBuildServices_InvalidAddressAborts(t *testing.T) {
	t.Setenv(serverPrefix+"LISTEN", "not-an-address")
	t.Setenv(serverPrefix+"LOG_PATH", t.TempDir()+"/out.log")

	_, err := buildServices(context.Background(), testRuntime(t))
	if err == nil {
		t.Fatal("Expected configuration error")
	}
	if !dispatcherrors.IsFatalToProcess(err) {
		t.Errorf("Expected process-fatal error, got %v", err)
	}
}

func TestReverseCmd_RejectsUnknownMode(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"reverse", "udp-smtp", "--source", ":1", "--destination", ":2"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("Expected error for unknown mode")
	}
}
