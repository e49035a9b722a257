// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNoopHandler(t *testing.T) {
	handler := &NoopHandler{}
	ctx := context.Background()
	hctx := &Context{
		SessionID:  "test-session",
		Route:      "forward",
		LocalAddr:  "127.0.0.1:8890",
		RemoteAddr: "127.0.0.1:1234",
		Protocol:   "udp",
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{
			name: "OnConnect",
			fn:   func() error { return handler.OnConnect(ctx, hctx) },
		},
		{
			name: "OnReject",
			fn:   func() error { return handler.OnReject(ctx, hctx, errors.New("full")) },
		},
		{
			name: "OnForward",
			fn:   func() error { return handler.OnForward(ctx, hctx, []byte("payload")) },
		},
		{
			name: "OnDrop",
			fn:   func() error { return handler.OnDrop(ctx, hctx, "127.0.0.1:9", errors.New("refused")) },
		},
		{
			name: "OnDisconnect",
			fn:   func() error { return handler.OnDisconnect(ctx, hctx) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Errorf("%s() returned error: %v", tt.name, err)
			}
		})
	}
}

func TestLoggingHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewLogging(logger)

	ctx := context.Background()
	hctx := &Context{SessionID: "s1", Route: "udp-tcp", RemoteAddr: "127.0.0.1:4000", Protocol: "tcp"}

	h.OnConnect(ctx, hctx)
	h.OnForward(ctx, hctx, []byte("abc"))
	h.OnDrop(ctx, hctx, "127.0.0.1:4000", errors.New("queue full"))
	h.OnReject(ctx, hctx, errors.New("session limit reached"))
	h.OnDisconnect(ctx, hctx)

	out := buf.String()
	for _, want := range []string{
		"session started",
		"payload forwarded",
		"payload_size=3",
		"payload dropped",
		"queue full",
		"session rejected",
		"session ended",
		"session=s1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %q", want)
		}
	}
}

func TestNewLogging_DefaultLogger(t *testing.T) {
	h := NewLogging(nil)
	if h.logger == nil {
		t.Fatal("Expected default logger")
	}
}
