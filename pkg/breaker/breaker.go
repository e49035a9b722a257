// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package breaker counts consecutive send failures per relay target.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// DefaultMaxFailures is the number of consecutive failures that opens a breaker.
const DefaultMaxFailures = 8

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	// If 0, uses DefaultMaxFailures.
	MaxFailures int
	// IsFailure selects the errors that count. Errors it rejects are passed
	// through without touching the count. If nil, every error counts.
	IsFailure func(error) bool
}

// CircuitBreaker opens after MaxFailures consecutive counted failures and
// stays open: a target that keeps refusing is not retried.
type CircuitBreaker struct {
	mu              sync.RWMutex
	config          Config
	state           State
	failures        int
	total           int
	lastFailureTime time.Time
	onStateChange   func(from, to State)
}

// New creates a new circuit breaker.
func New(config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.IsFailure == nil {
		config.IsFailure = func(error) bool { return true }
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Call executes fn unless the breaker is open and records its outcome.
// fn's error is returned unchanged.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if cb.State() == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()

	cb.afterCall(err)
	return err
}

// afterCall records the result of the call.
func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil:
		cb.failures = 0
	case cb.config.IsFailure(err):
		cb.onFailure()
	}
}

// onFailure handles a counted failure.
func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.total++
	cb.lastFailureTime = time.Now()

	if cb.state == StateClosed && cb.failures >= cb.config.MaxFailures {
		cb.setState(StateOpen)
	}
}

// setState changes the circuit breaker state.
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	// Notify state change
	if cb.onStateChange != nil {
		go cb.onStateChange(oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// OnStateChange registers a callback for state changes.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Stats returns the state, the current run of consecutive failures and the
// total number of counted failures.
func (cb *CircuitBreaker) Stats() (state State, consecutive, total int) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state, cb.failures, cb.total
}

// LastFailure returns the time of the most recent counted failure.
func (cb *CircuitBreaker) LastFailure() time.Time {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.lastFailureTime
}
