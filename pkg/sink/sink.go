// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package sink provides the byte sinks and file sources of a relay: the
// console tee, the append-only server log and the client's input file.
package sink

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/absmach/dispatch/pkg/errors"
)

// Stdin is the source path that selects standard input.
const Stdin = "-"

// Sink writes every payload through and flushes before returning, so each
// datagram is visible to the reader as soon as it is written.
type Sink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	name   string
}

// New wraps w. If w is also an io.Closer it is closed by Close.
func New(name string, w io.Writer) *Sink {
	s := &Sink{w: bufio.NewWriter(w), name: name}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Console returns a sink over standard output that Close leaves open.
func Console() *Sink {
	return &Sink{w: bufio.NewWriter(os.Stdout), name: "stdout"}
}

// OpenLog opens path for appending, creating it if needed.
func OpenLog(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Config("open log", path, err)
	}
	return New(path, f), nil
}

// Write writes p and flushes.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, s.w.Flush()
}

// Name identifies the sink in logs.
func (s *Sink) Name() string { return s.name }

// Close flushes and closes the underlying writer when the sink owns it.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// OpenSource opens path for reading; Stdin selects standard input, which
// the returned closer leaves open.
func OpenSource(path string) (io.ReadCloser, error) {
	if path == Stdin {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Config("open source", path, err)
	}
	return f, nil
}
