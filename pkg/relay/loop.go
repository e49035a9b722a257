// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/absmach/dispatch/pkg/breaker"
	"github.com/absmach/dispatch/pkg/errors"
	"github.com/absmach/dispatch/pkg/handler"
	"github.com/absmach/dispatch/pkg/socket"
	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the default receive buffer size in bytes.
	DefaultBufferSize = 8096

	// MaxDatagramSize is the maximum size of a UDP datagram.
	MaxDatagramSize = 65535
)

// SourceKind selects the end-of-stream rules of a loop's source.
type SourceKind int

const (
	// SocketSource is a listen handle. An empty read is a transport fault.
	SocketSource SourceKind = iota
	// FileSource is a file or stdin. An empty read is end-of-file, and a
	// chunk that is a lone line feed is skipped.
	FileSource
	// StreamSource is a TCP stream. End-of-stream is ErrStreamClosed and
	// every chunk becomes one datagram.
	StreamSource
)

func (k SourceKind) String() string {
	switch k {
	case FileSource:
		return "file"
	case StreamSource:
		return "tcp"
	default:
		return "udp"
	}
}

// State is the position of a loop in its lifecycle.
type State int32

const (
	StateBound State = iota
	StateReceiving
	StateDispatching
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateReceiving:
		return "receiving"
	case StateDispatching:
		return "dispatching"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrLoopTerminated is reported by Check once a loop has stopped cleanly.
var ErrLoopTerminated = stderrors.New("relay loop terminated")

// LoopConfig holds the relay loop configuration.
type LoopConfig struct {
	// Name labels logs and handler events.
	Name string

	// Source is read one datagram (or file chunk) at a time. The loop owns
	// it and closes it on exit.
	Source io.ReadCloser

	// SourceAddr describes the source in logs and errors.
	SourceAddr string

	// Kind selects socket or file end-of-stream rules.
	Kind SourceKind

	// Pool holds the fan-out targets. The loop owns it and closes it on exit.
	// May be empty.
	Pool *Pool

	// Log, if set, receives every payload after fan-out. Shared sinks must be
	// safe for concurrent use; the loop does not close it.
	Log io.Writer

	// Tee, if set, receives every payload after Log. The loop does not close it.
	Tee io.Writer

	// BufferSize is the size of the receive buffer in bytes. Longer datagrams
	// are truncated. If 0, uses DefaultBufferSize (8096 bytes).
	// Must not exceed MaxDatagramSize (65535).
	BufferSize int

	// MaxSendFailures is the number of consecutive refused sends after which
	// a target is declared unreachable and the loop stops.
	// If 0, uses breaker.DefaultMaxFailures (8).
	MaxSendFailures int

	// Handler receives lifecycle events. If nil, events are discarded.
	Handler handler.Handler

	// Session identifies the loop in handler events. If nil, a new session
	// is created from Name, SourceAddr and Kind.
	Session *handler.Context

	// Logger for loop events
	Logger *slog.Logger
}

// Loop reads from one source and fans each payload out to its targets.
type Loop struct {
	config   LoopConfig
	breakers []*breaker.CircuitBreaker
	state    atomic.Int32

	mu  sync.Mutex
	err error
}

// NewLoop creates a loop in the Bound state.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Handler == nil {
		cfg.Handler = &handler.NoopHandler{}
	}
	if cfg.Pool == nil {
		cfg.Pool = NewPoolFromTargets()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize > MaxDatagramSize {
		cfg.BufferSize = MaxDatagramSize
	}
	if cfg.MaxSendFailures <= 0 {
		cfg.MaxSendFailures = breaker.DefaultMaxFailures
	}

	l := &Loop{config: cfg}
	for _, t := range cfg.Pool.Targets() {
		br := breaker.New(breaker.Config{
			MaxFailures: cfg.MaxSendFailures,
			IsFailure:   IsRefused,
		})
		target := t.Addr.String()
		br.OnStateChange(func(from, to breaker.State) {
			_, _, total := br.Stats()
			cfg.Logger.Warn("target breaker state changed",
				slog.String("route", cfg.Name),
				slog.String("target", target),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
				slog.Int("refusals", total),
				slog.Time("last_refusal", br.LastFailure()))
		})
		l.breakers = append(l.breakers, br)
	}
	return l
}

// Breakers returns the per-target breakers in pool order.
func (l *Loop) Breakers() []*breaker.CircuitBreaker { return l.breakers }

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Check reports nil while the loop runs, and its terminal error once stopped.
func (l *Loop) Check(context.Context) error {
	if l.State() != StateTerminated {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	return ErrLoopTerminated
}

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// Run receives and dispatches until the source ends, a fatal error occurs or
// ctx is cancelled. End-of-file on a file source and cancellation return nil;
// end of a stream source returns ErrStreamClosed.
func (l *Loop) Run(ctx context.Context) (err error) {
	cfg := l.config
	hctx := cfg.Session
	if hctx == nil {
		hctx = &handler.Context{
			SessionID: uuid.New().String(),
			Route:     cfg.Name,
			LocalAddr: cfg.SourceAddr,
			Protocol:  cfg.Kind.String(),
		}
	}

	stop := context.AfterFunc(ctx, func() {
		cfg.Source.Close()
	})
	defer func() {
		stop()
		cfg.Source.Close()
		if cerr := cfg.Pool.Close(); cerr != nil {
			cfg.Logger.Warn("failed to close targets",
				slog.String("route", cfg.Name),
				slog.String("error", cerr.Error()))
		}
		if ctx.Err() != nil {
			err = nil
		}
		l.finish(err)
		if herr := cfg.Handler.OnDisconnect(context.Background(), hctx); herr != nil {
			cfg.Logger.Error("disconnect handler error",
				slog.String("route", cfg.Name),
				slog.String("error", herr.Error()))
		}
	}()

	if herr := cfg.Handler.OnConnect(ctx, hctx); herr != nil {
		cfg.Logger.Error("connect handler error",
			slog.String("route", cfg.Name),
			slog.String("error", herr.Error()))
	}

	cfg.Logger.Info("relay loop started",
		slog.String("route", cfg.Name),
		slog.String("source", cfg.SourceAddr),
		slog.String("kind", cfg.Kind.String()),
		slog.Int("targets", cfg.Pool.Len()),
		slog.Int("buffer_size", cfg.BufferSize))

	buf := make([]byte, cfg.BufferSize)
	for {
		l.setState(StateReceiving)
		n, rerr := cfg.Source.Read(buf)

		if n > 0 && !(cfg.Kind == FileSource && n == 1 && buf[0] == '\n') {
			l.setState(StateDispatching)
			if err := l.dispatch(ctx, hctx, buf[:n]); err != nil {
				return err
			}
		}

		eof := stderrors.Is(rerr, io.EOF) || (n == 0 && rerr == nil)
		switch {
		case eof && cfg.Kind == FileSource:
			return nil
		case eof && cfg.Kind == StreamSource:
			return errors.Loop("recv", cfg.SourceAddr, errors.ErrStreamClosed)
		case rerr != nil:
			if ctx.Err() != nil {
				return nil
			}
			return errors.Loop("recv", cfg.SourceAddr, rerr)
		case n == 0:
			return errors.Loop("recv", cfg.SourceAddr, errors.ErrEmptyDatagram)
		}
	}
}

func (l *Loop) finish(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	l.setState(StateTerminated)

	if err != nil {
		l.config.Logger.Error("relay loop stopped",
			slog.String("route", l.config.Name),
			slog.String("source", l.config.SourceAddr),
			slog.String("error", err.Error()))
		return
	}
	l.config.Logger.Info("relay loop stopped",
		slog.String("route", l.config.Name),
		slog.String("source", l.config.SourceAddr))
}

// dispatch writes payload to every target in pool order, then to the log
// and tee sinks.
func (l *Loop) dispatch(ctx context.Context, hctx *handler.Context, payload []byte) error {
	cfg := l.config

	for i, t := range cfg.Pool.Targets() {
		br := l.breakers[i]
		err := br.Call(func() error {
			_, err := t.Sender.Write(payload)
			return err
		})
		if err == nil {
			continue
		}

		target := t.Addr.String()
		if !IsRefused(err) {
			return errors.Loop("send", target, err)
		}

		if herr := cfg.Handler.OnDrop(ctx, hctx, target, err); herr != nil {
			cfg.Logger.Error("drop handler error",
				slog.String("route", cfg.Name),
				slog.String("error", herr.Error()))
		}
		if br.State() == breaker.StateOpen {
			unreachable := fmt.Errorf("%w: %d consecutive refusals: %v",
				errors.ErrTargetUnreachable, cfg.MaxSendFailures, err)
			cfg.Handler.OnDrop(ctx, hctx, target, unreachable)
			return errors.Loop("send", target, unreachable)
		}
		cfg.Logger.Debug("target refused datagram",
			slog.String("route", cfg.Name),
			slog.String("target", target))
	}

	if cfg.Log != nil {
		if _, err := cfg.Log.Write(payload); err != nil {
			return errors.Loop("log", cfg.SourceAddr, err)
		}
	}
	if cfg.Tee != nil {
		if _, err := cfg.Tee.Write(payload); err != nil {
			return errors.Loop("tee", cfg.SourceAddr, err)
		}
	}

	if herr := cfg.Handler.OnForward(ctx, hctx, payload); herr != nil {
		cfg.Logger.Error("forward handler error",
			slog.String("route", cfg.Name),
			slog.String("error", herr.Error()))
	}
	return nil
}

// IsRefused reports whether err is the ICMP port-unreachable report a
// connected UDP socket surfaces on a later send.
func IsRefused(err error) bool {
	return socket.IsRefused(err)
}
