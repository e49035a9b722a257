// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pool bounds the number of concurrent bridge sessions.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrPoolClosed is returned when the pool is closed.
	ErrPoolClosed = errors.New("session pool is closed")
	// ErrPoolExhausted is returned when no session slot became free in time.
	ErrPoolExhausted = errors.New("session pool exhausted")
)

// Config holds session limiter configuration.
type Config struct {
	// MaxActive is the maximum number of concurrent sessions.
	// If 0, there is no limit.
	MaxActive int
	// WaitTimeout is the maximum time to wait for a slot when the limiter is full.
	// If 0, returns error immediately.
	WaitTimeout time.Duration
}

// Limiter hands out session slots.
type Limiter struct {
	config   Config
	sem      *semaphore.Weighted
	active   atomic.Int64
	rejected atomic.Int64

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New creates a new session limiter.
func New(config Config) *Limiter {
	l := &Limiter{
		config: config,
		done:   make(chan struct{}),
	}
	if config.MaxActive > 0 {
		l.sem = semaphore.NewWeighted(int64(config.MaxActive))
	}
	return l
}

// Acquire takes a slot, waiting up to WaitTimeout. Every successful Acquire
// must be paired with Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case <-l.done:
		return ErrPoolClosed
	default:
	}

	if l.sem == nil {
		l.active.Add(1)
		return nil
	}

	if l.sem.TryAcquire(1) {
		l.active.Add(1)
		return nil
	}
	if l.config.WaitTimeout <= 0 {
		l.rejected.Add(1)
		return ErrPoolExhausted
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.config.WaitTimeout)
	defer cancel()

	go func() {
		select {
		case <-l.done:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.isClosed() {
			return ErrPoolClosed
		}
		l.rejected.Add(1)
		return ErrPoolExhausted
	}
	l.active.Add(1)
	return nil
}

// Release returns a slot taken by Acquire.
func (l *Limiter) Release() {
	l.active.Add(-1)
	if l.sem != nil {
		l.sem.Release(1)
	}
}

// Close makes every pending and future Acquire fail with ErrPoolClosed.
// Slots already held stay valid until released.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	return nil
}

func (l *Limiter) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Stats returns the number of held slots and of rejected acquisitions.
func (l *Limiter) Stats() (active, rejected int) {
	return int(l.active.Load()), int(l.rejected.Load())
}
