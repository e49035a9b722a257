// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/absmach/dispatch/pkg/bridge"
	dispatcherrors "github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/handler"
	"github.com/absmach/dispatch/pkg/relay"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

type forwardCounter struct {
	handler.NoopHandler
	mu       sync.Mutex
	forwards int
}

func (h *forwardCounter) OnForward(ctx context.Context, hctx *handler.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwards++
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}
	return path
}

// waitForFile polls path until it holds want or the deadline passes.
func waitForFile(t *testing.T, path, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := os.ReadFile(path)
		if string(got) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected %s to contain %q, got %q", path, want, got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startServer(t *testing.T, cfg ServerConfig) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := NewServer(ctx, cfg)
	if err != nil {
		cancel()
		t.Fatalf("Failed to create server: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	return srv, cancel, done
}

func stop(t *testing.T, cancel context.CancelFunc, done <-chan error) error {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Service did not stop")
		return nil
	}
}

func TestClientToServer_Unicast(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "server.log")
	srv, cancel, done := startServer(t, ServerConfig{
		Listen:  []string{"127.0.0.1:0"},
		LogPath: logPath,
		Logger:  testLogger,
	})
	defer cancel()

	client, err := NewClient(context.Background(), ClientConfig{
		Path:    writeFile(t, "hello\n"),
		Targets: []string{srv.Addrs()[0].String()},
		Logger:  testLogger,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Run(context.Background()); err != nil {
		t.Fatalf("Expected client to stop cleanly at end-of-file, got %v", err)
	}
	if client.Loop().State() != relay.StateTerminated {
		t.Errorf("Expected terminated client loop, got %s", client.Loop().State())
	}

	waitForFile(t, logPath, "hello\n")

	if err := stop(t, cancel, done); err != nil {
		t.Errorf("Expected clean server stop, got %v", err)
	}
}

func TestServer_AppendsAcrossRestarts(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "server.log")
	if err := os.WriteFile(logPath, []byte("old|"), 0o644); err != nil {
		t.Fatalf("Failed to seed log: %v", err)
	}

	srv, cancel, done := startServer(t, ServerConfig{
		Listen:  []string{"127.0.0.1:0"},
		LogPath: logPath,
		Logger:  testLogger,
	})
	defer cancel()

	c, err := net.Dial("udp4", srv.Addrs()[0].String())
	if err != nil {
		t.Fatalf("Failed to dial server: %v", err)
	}
	defer c.Close()
	c.Write([]byte("new"))

	waitForFile(t, logPath, "old|new")
	stop(t, cancel, done)
}

func TestServer_MulticastFanOut(t *testing.T) {
	// Reserve a port for the group.
	reserved, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	port := reserved.LocalAddr().(*net.UDPAddr).Port
	reserved.Close()
	group := "224.0.0.110:" + strconv.Itoa(port)

	dir := t.TempDir()
	var logs []string
	for i := 0; i < 3; i++ {
		logPath := filepath.Join(dir, "server"+strconv.Itoa(i)+".log")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		srv, err := NewServer(ctx, ServerConfig{
			Listen:  []string{group},
			LogPath: logPath,
			Logger:  testLogger,
		})
		if err != nil {
			t.Skipf("Host cannot join IPv4 multicast: %v", err)
		}
		go srv.Run(ctx)
		logs = append(logs, logPath)
	}

	client, err := NewClient(context.Background(), ClientConfig{
		Path:    writeFile(t, "ping"),
		Targets: []string{group},
		Logger:  testLogger,
	})
	if err != nil {
		t.Skipf("Host cannot send IPv4 multicast: %v", err)
	}
	if err := client.Run(context.Background()); err != nil {
		t.Skipf("Multicast send failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for _, logPath := range logs {
		for {
			got, _ := os.ReadFile(logPath)
			if string(got) == "ping" {
				break
			}
			if time.Now().After(deadline) {
				t.Skipf("No multicast loopback on this host: %s holds %q", logPath, got)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestClient_EmptyFile(t *testing.T) {
	down, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to create downstream: %v", err)
	}
	defer down.Close()

	h := &forwardCounter{}
	client, err := NewClient(context.Background(), ClientConfig{
		Path:    writeFile(t, ""),
		Targets: []string{down.LocalAddr().String()},
		Handler: h,
		Logger:  testLogger,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Run(context.Background()); err != nil {
		t.Fatalf("Expected clean exit, got %v", err)
	}
	if h.forwards != 0 {
		t.Errorf("Expected no forwards, got %d", h.forwards)
	}

	down.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if n, _, err := down.ReadFromUDP(make([]byte, 16)); err == nil {
		t.Errorf("Expected no datagram, got %d bytes", n)
	}
}

func TestClient_TeeAndLineSkip(t *testing.T) {
	down, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to create downstream: %v", err)
	}
	defer down.Close()

	var tee bytes.Buffer
	client, err := NewClient(context.Background(), ClientConfig{
		Path:       writeFile(t, "\n"),
		Targets:    []string{down.LocalAddr().String()},
		Tee:        true,
		Stdout:     &tee,
		BufferSize: 16,
		Logger:     testLogger,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Run(context.Background()); err != nil {
		t.Fatalf("Expected clean exit, got %v", err)
	}
	if tee.Len() != 0 {
		t.Errorf("Expected lone line feed to be skipped, tee holds %q", tee.String())
	}

	client, err = NewClient(context.Background(), ClientConfig{
		Path:    writeFile(t, "data"),
		Targets: []string{down.LocalAddr().String()},
		Tee:     true,
		Stdout:  &tee,
		Logger:  testLogger,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Run(context.Background()); err != nil {
		t.Fatalf("Expected clean exit, got %v", err)
	}
	if tee.String() != "data" {
		t.Errorf("Expected tee 'data', got %q", tee.String())
	}
}

func TestClient_ConfigErrors(t *testing.T) {
	cases := []struct {
		desc string
		cfg  ClientConfig
	}{
		{
			desc: "missing source",
			cfg:  ClientConfig{Path: filepath.Join(t.TempDir(), "missing"), Targets: []string{"127.0.0.1:9"}},
		},
		{
			desc: "malformed target",
			cfg:  ClientConfig{Path: writeFile(t, "x"), Targets: []string{"127.0.0.1"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			tc.cfg.Logger = testLogger
			_, err := NewClient(context.Background(), tc.cfg)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !dispatcherrors.IsFatalToProcess(err) {
				t.Errorf("Expected configuration error, got %v", err)
			}
		})
	}
}

func TestForwardToServer(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "downstream.log")
	srv, srvCancel, srvDone := startServer(t, ServerConfig{
		Listen:  []string{"127.0.0.1:0"},
		LogPath: logPath,
		Logger:  testLogger,
	})
	defer srvCancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd, err := NewForward(ctx, ForwardConfig{
		Listen:  []string{"127.0.0.1:0"},
		Targets: []string{srv.Addrs()[0].String()},
		Logger:  testLogger,
	})
	if err != nil {
		t.Fatalf("Failed to create forward: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- fwd.Run(ctx) }()

	c, err := net.Dial("udp4", fwd.Addrs()[0].String())
	if err != nil {
		t.Fatalf("Failed to dial forward: %v", err)
	}
	defer c.Close()
	c.Write([]byte("xyz"))

	waitForFile(t, logPath, "xyz")

	if err := stop(t, cancel, done); err != nil {
		t.Errorf("Expected clean forward stop, got %v", err)
	}
	stop(t, srvCancel, srvDone)
}

func TestForward_LoopFailureIsIsolated(t *testing.T) {
	down, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to create downstream: %v", err)
	}
	defer down.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd, err := NewForward(ctx, ForwardConfig{
		Listen:  []string{"127.0.0.1:0", "127.0.0.1:0"},
		Targets: []string{down.LocalAddr().String()},
		Logger:  testLogger,
	})
	if err != nil {
		t.Fatalf("Failed to create forward: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- fwd.Run(ctx) }()

	// An empty datagram is fatal to the first loop only.
	first, err := net.Dial("udp4", fwd.Addrs()[0].String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer first.Close()
	first.Write(nil)

	name := "forward/" + fwd.Addrs()[0].String()
	deadline := time.Now().Add(2 * time.Second)
	for fwd.Checks()[name](ctx) == nil {
		if time.Now().After(deadline) {
			t.Fatal("First loop did not stop on empty datagram")
		}
		time.Sleep(10 * time.Millisecond)
	}

	second, err := net.Dial("udp4", fwd.Addrs()[1].String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer second.Close()
	second.Write([]byte("still"))

	down.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := down.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("Second loop did not forward: %v", err)
	}
	if string(buf[:n]) != "still" {
		t.Errorf("Expected 'still', got %q", buf[:n])
	}

	err = stop(t, cancel, done)
	if !errors.Is(err, dispatcherrors.ErrEmptyDatagram) {
		t.Errorf("Expected ErrEmptyDatagram from Run, got %v", err)
	}
}

func TestForward_NoListenAddress(t *testing.T) {
	_, err := NewForward(context.Background(), ForwardConfig{Logger: testLogger})
	if !errors.Is(err, dispatcherrors.ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress, got %v", err)
	}
}

func TestReverse_RunsBridges(t *testing.T) {
	down, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to create downstream: %v", err)
	}
	defer down.Close()

	rev, err := NewReverse(ReverseConfig{
		Bridges: []bridge.Config{{
			Name:        "tcp-in",
			Mode:        bridge.TCPToUDP,
			Source:      "127.0.0.1:0",
			Destination: down.LocalAddr().String(),
		}},
		Logger: testLogger,
	})
	if err != nil {
		t.Fatalf("Failed to create reverse: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rev.Run(ctx) }()

	b := rev.Bridges()[0]
	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Bridge did not become ready")
	}

	c, err := net.Dial("tcp", b.SourceAddr().String())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	c.Write([]byte("abc"))

	down.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := down.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("Downstream did not receive: %v", err)
	}
	if string(buf[:n]) != "abc" {
		t.Errorf("Expected 'abc', got %q", buf[:n])
	}
	if err := rev.Checks()["tcp-in"](ctx); err != nil {
		t.Errorf("Expected running bridge to be healthy, got %v", err)
	}

	c.Close()
	deadline := time.Now().Add(2 * time.Second)
	for b.Sessions() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := stop(t, cancel, done); err != nil {
		t.Errorf("Expected clean stop, got %v", err)
	}
}

func TestReverse_ConfigErrors(t *testing.T) {
	if _, err := NewReverse(ReverseConfig{Logger: testLogger}); !dispatcherrors.IsFatalToProcess(err) {
		t.Errorf("Expected configuration error for no bridges, got %v", err)
	}
	_, err := NewReverse(ReverseConfig{
		Bridges: []bridge.Config{{Mode: bridge.UDPToTCP, Source: "127.0.0.1:0"}},
		Logger:  testLogger,
	})
	if !errors.Is(err, dispatcherrors.ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress for missing destination, got %v", err)
	}
}
