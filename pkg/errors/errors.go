// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for dispatch.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrInvalidAddress indicates a malformed or unresolvable socket address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrEmptyDatagram indicates a zero-length receive on a socket source.
	// UDP has no end-of-stream, so an empty read is treated as a transport fault.
	ErrEmptyDatagram = errors.New("zero-length datagram")

	// ErrStreamClosed indicates the upstream stream reached end-of-stream.
	ErrStreamClosed = errors.New("stream closed by peer")

	// ErrTargetUnreachable indicates a target refused datagrams repeatedly.
	ErrTargetUnreachable = errors.New("target unreachable")

	// ErrNoMulticastInterface indicates no interface candidate accepted the group.
	ErrNoMulticastInterface = errors.New("no suitable multicast interface")

	// ErrSessionRejected indicates the session bound was reached.
	ErrSessionRejected = errors.New("session limit reached")
)

// Class says how far a failure propagates.
type Class int

const (
	// ClassLoop terminates the affected relay loop or session only.
	ClassLoop Class = iota
	// ClassProcess aborts startup; nothing has been spawned yet.
	ClassProcess
	// ClassRetryable is recoverable by a bounded retry at the failure site.
	ClassRetryable
)

func (c Class) String() string {
	switch c {
	case ClassLoop:
		return "loop"
	case ClassProcess:
		return "process"
	case ClassRetryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// RelayError wraps an error with the operation, address and fatality class.
type RelayError struct {
	Op    string // Operation that failed (resolve, bind, join, send, recv, ...)
	Addr  string // Socket address involved
	Class Class
	Err   error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// New creates a new RelayError.
func New(op, addr string, class Class, err error) error {
	if err == nil {
		return nil
	}
	return &RelayError{
		Op:    op,
		Addr:  addr,
		Class: class,
		Err:   err,
	}
}

// Config marks err as a startup configuration error.
func Config(op, addr string, err error) error {
	return New(op, addr, ClassProcess, err)
}

// Loop marks err as fatal to the running loop only.
func Loop(op, addr string, err error) error {
	return New(op, addr, ClassLoop, err)
}

// ClassOf reports the class of the outermost RelayError in err's chain.
// Errors that carry no class are loop-fatal.
func ClassOf(err error) Class {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Class
	}
	return ClassLoop
}

// IsFatalToProcess reports whether err must abort the process.
func IsFatalToProcess(err error) bool {
	return err != nil && ClassOf(err) == ClassProcess
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
