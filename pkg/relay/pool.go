// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"io"

	"github.com/absmach/dispatch/pkg/addr"
	"github.com/absmach/dispatch/pkg/socket"
	"go.uber.org/multierr"
)

// Sender transmits one datagram per Write to a fixed destination.
// *socket.Sender implements it.
type Sender interface {
	io.Writer
	io.Closer
}

// Target is a resolved address and its send handle.
type Target struct {
	Addr   addr.SocketAddress
	Sender Sender
}

// Pool is the ordered, immutable set of targets of one loop. Construction
// order is fan-out order.
type Pool struct {
	targets []Target
}

// NewPool resolves each target and connects a send handle for it. On any
// failure the handles built so far are closed.
func NewPool(ctx context.Context, f *socket.Factory, targets []string) (*Pool, error) {
	addrs, err := addr.ResolveAll(ctx, targets)
	if err != nil {
		return nil, err
	}

	p := &Pool{targets: make([]Target, 0, len(addrs))}
	for _, a := range addrs {
		s, err := f.ConnectSender(ctx, a)
		if err != nil {
			return nil, multierr.Append(err, p.Close())
		}
		p.targets = append(p.targets, Target{Addr: a, Sender: s})
	}
	return p, nil
}

// NewPoolFromTargets builds a pool from already-connected targets.
func NewPoolFromTargets(targets ...Target) *Pool {
	return &Pool{targets: append([]Target(nil), targets...)}
}

// Targets returns the targets in fan-out order. The slice must not be modified.
func (p *Pool) Targets() []Target { return p.targets }

// Len returns the number of targets.
func (p *Pool) Len() int { return len(p.targets) }

// Close closes every send handle.
func (p *Pool) Close() error {
	var err error
	for _, t := range p.targets {
		err = multierr.Append(err, t.Sender.Close())
	}
	return err
}
