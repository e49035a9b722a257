// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/dispatch/pkg/addr"
	dispatcherrors "github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/handler"
	"github.com/absmach/dispatch/pkg/pool"
	"github.com/absmach/dispatch/pkg/relay"
	"github.com/absmach/dispatch/pkg/socket"
)

const (
	// DefaultShutdownTimeout is the default timeout for draining sessions.
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultQueueSize is the default per-session datagram queue length.
	DefaultQueueSize = 64

	// DefaultPath is the default WebSocket upgrade path.
	DefaultPath = "/"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

	// ErrQueueFull is reported when a slow session misses a datagram.
	ErrQueueFull = errors.New("session queue full")

	// ErrBridgeStopped is reported by Check once a bridge has stopped cleanly.
	ErrBridgeStopped = errors.New("bridge stopped")

	// ErrUnknownMode is returned by Listen for an unsupported Mode.
	ErrUnknownMode = errors.New("unknown bridge mode")
)

// Mode selects the direction of a bridge.
type Mode string

const (
	// UDPToTCP broadcasts every datagram to every connected TCP client.
	UDPToTCP Mode = "udp-tcp"
	// TCPToUDP forwards each chunk read from a TCP client as one datagram.
	TCPToUDP Mode = "tcp-udp"
	// UDPToUDP forwards each datagram to one UDP target.
	UDPToUDP Mode = "udp-udp"
	// TCPDialToUDP dials an upstream TCP server and forwards its chunks as datagrams.
	TCPDialToUDP Mode = "tcp-dial-udp"
	// UDPToWebSocket broadcasts every datagram to every WebSocket client.
	UDPToWebSocket Mode = "udp-ws"
)

// Config holds the bridge configuration.
type Config struct {
	// Name labels logs, metrics and health checks. If empty, the mode is used.
	Name string

	// Mode selects the bridge direction for Listen.
	Mode Mode

	// Source is where data enters (host:port): the UDP listen address for
	// udp-*, the TCP listen address for tcp-udp, the upstream server for
	// tcp-dial-udp.
	Source string

	// Destination is where data leaves (host:port): the TCP listen address
	// for udp-tcp, the HTTP listen address for udp-ws, the UDP target otherwise.
	Destination string

	// Path is the WebSocket upgrade path. If empty, uses DefaultPath.
	Path string

	// BufferSize is the size of read buffers in bytes.
	// If 0, uses relay.DefaultBufferSize (8096 bytes).
	BufferSize int

	// QueueSize is the per-session datagram queue length for broadcast
	// bridges. If 0, uses DefaultQueueSize.
	QueueSize int

	// MaxSessions is the maximum number of concurrent sessions.
	// If 0, no limit is enforced.
	MaxSessions int

	// AcquireTimeout is how long a new connection waits for a free session
	// slot before it is rejected. If 0, it is rejected at once.
	AcquireTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for active sessions to drain
	// during graceful shutdown.
	ShutdownTimeout time.Duration

	// MaxSendFailures bounds consecutive refused sends to a UDP target.
	// If 0, uses the relay default.
	MaxSendFailures int

	// Socket builds UDP handles. If nil, a default factory is used.
	Socket *socket.Factory

	// Handler receives session events. If nil, events are discarded.
	Handler handler.Handler

	// Logger for bridge events
	Logger *slog.Logger
}

// Bridge translates between TCP streams, WebSocket connections and UDP
// datagrams.
type Bridge struct {
	config  Config
	limiter *pool.Limiter
	wg      sync.WaitGroup
	active  atomic.Int64

	ready   chan struct{}
	once    sync.Once
	srcAddr net.Addr
	dstAddr net.Addr

	mu      sync.Mutex
	stopped bool
	err     error
}

// New creates a bridge with the given configuration.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Handler == nil {
		cfg.Handler = &handler.NoopHandler{}
	}
	if cfg.Socket == nil {
		cfg.Socket = socket.New(socket.Config{Logger: cfg.Logger})
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.Mode)
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = relay.DefaultBufferSize
	}
	if cfg.BufferSize > relay.MaxDatagramSize {
		cfg.BufferSize = relay.MaxDatagramSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &Bridge{
		config: cfg,
		limiter: pool.New(pool.Config{
			MaxActive:   cfg.MaxSessions,
			WaitTimeout: cfg.AcquireTimeout,
		}),
		ready: make(chan struct{}),
	}
}

// Listen runs the bridge selected by Mode until ctx is cancelled or a fatal
// error occurs.
func (b *Bridge) Listen(ctx context.Context) error {
	switch b.config.Mode {
	case UDPToTCP:
		return b.DatagramToStream(ctx)
	case TCPToUDP:
		return b.StreamToDatagram(ctx)
	case UDPToUDP:
		return b.DatagramToDatagram(ctx)
	case TCPDialToUDP:
		return b.DialStreamToDatagram(ctx)
	case UDPToWebSocket:
		return b.DatagramToWebSocket(ctx)
	default:
		return dispatcherrors.Config("bridge", b.config.Name, fmt.Errorf("%w: %q", ErrUnknownMode, b.config.Mode))
	}
}

// Ready is closed once the bridge's sockets are bound.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// SourceAddr returns the bound source address after Ready, nil for tcp-dial-udp.
func (b *Bridge) SourceAddr() net.Addr { return b.srcAddr }

// DestinationAddr returns the bound TCP or HTTP listen address after Ready,
// nil for bridges whose destination is a UDP target.
func (b *Bridge) DestinationAddr() net.Addr { return b.dstAddr }

// Sessions returns the number of active sessions.
func (b *Bridge) Sessions() int { return int(b.active.Load()) }

// Limiter returns the session limiter.
func (b *Bridge) Limiter() *pool.Limiter { return b.limiter }

// Check reports nil while the bridge runs, and its terminal error once stopped.
func (b *Bridge) Check(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		return nil
	}
	if b.err != nil {
		return b.err
	}
	return ErrBridgeStopped
}

func (b *Bridge) markReady(src, dst net.Addr) {
	b.once.Do(func() {
		b.srcAddr = src
		b.dstAddr = dst
		close(b.ready)
	})
}

func (b *Bridge) finish(ctx context.Context, err error) error {
	// Errors caused by the shutdown itself are not failures.
	if ctx.Err() != nil && !errors.Is(err, ErrShutdownTimeout) && dispatcherrors.ClassOf(err) != dispatcherrors.ClassProcess {
		err = nil
	}
	b.limiter.Close()

	b.mu.Lock()
	b.stopped = true
	b.err = err
	b.mu.Unlock()

	if err != nil {
		b.config.Logger.Error("bridge stopped",
			slog.String("bridge", b.config.Name),
			slog.String("error", err.Error()))
		return err
	}
	b.config.Logger.Info("bridge stopped", slog.String("bridge", b.config.Name))
	return nil
}

// bindSource resolves and binds the UDP source of a udp-* bridge.
func (b *Bridge) bindSource(ctx context.Context) (*net.UDPConn, error) {
	a, err := addr.Resolve(ctx, b.config.Source)
	if err != nil {
		return nil, err
	}
	return b.config.Socket.BindListener(ctx, a)
}

// loopConfig returns the relay loop settings shared by UDP-target bridges.
func (b *Bridge) loopConfig(name string) relay.LoopConfig {
	return relay.LoopConfig{
		Name:            name,
		BufferSize:      b.config.BufferSize,
		MaxSendFailures: b.config.MaxSendFailures,
		Handler:         b.config.Handler,
		Logger:          b.config.Logger,
	}
}

// DatagramToDatagram forwards every datagram received on Source to the
// Destination target. A zero-length datagram is fatal.
func (b *Bridge) DatagramToDatagram(ctx context.Context) error {
	conn, err := b.bindSource(ctx)
	if err != nil {
		return b.finish(ctx, err)
	}

	p, err := relay.NewPool(ctx, b.config.Socket, []string{b.config.Destination})
	if err != nil {
		conn.Close()
		return b.finish(ctx, err)
	}
	b.markReady(conn.LocalAddr(), nil)

	cfg := b.loopConfig(b.config.Name)
	cfg.Source = conn
	cfg.SourceAddr = b.config.Source
	cfg.Kind = relay.SocketSource
	cfg.Pool = p

	return b.finish(ctx, relay.NewLoop(cfg).Run(ctx))
}

// DialStreamToDatagram connects to the upstream TCP server at Source and
// forwards every chunk it sends as one datagram to Destination. The peer
// closing the stream ends the bridge with ErrStreamClosed.
func (b *Bridge) DialStreamToDatagram(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", b.config.Source)
	if err != nil {
		return b.finish(ctx, dispatcherrors.Config("dial", b.config.Source, err))
	}

	p, err := relay.NewPool(ctx, b.config.Socket, []string{b.config.Destination})
	if err != nil {
		conn.Close()
		return b.finish(ctx, err)
	}
	b.markReady(conn.LocalAddr(), nil)

	b.config.Logger.Info("upstream connected",
		slog.String("bridge", b.config.Name),
		slog.String("upstream", b.config.Source),
		slog.String("target", b.config.Destination))

	cfg := b.loopConfig(b.config.Name)
	cfg.Source = conn
	cfg.SourceAddr = b.config.Source
	cfg.Kind = relay.StreamSource
	cfg.Pool = p

	return b.finish(ctx, relay.NewLoop(cfg).Run(ctx))
}
