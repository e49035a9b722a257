// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"errors"
	"testing"
	"time"
)

var (
	errRefused = errors.New("refused")
	errOther   = errors.New("other")
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3})

	for i := 0; i < 2; i++ {
		if err := cb.Call(func() error { return errRefused }); err != errRefused {
			t.Fatalf("Expected errRefused, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed after 2 failures, got %s", cb.State())
	}

	cb.Call(func() error { return errRefused })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after 3 failures, got %s", cb.State())
	}

	called := false
	err := cb.Call(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Open breaker must not run the call")
	}
}

func TestCircuitBreaker_SuccessResetsRun(t *testing.T) {
	cb := New(Config{MaxFailures: 2})

	cb.Call(func() error { return errRefused })
	cb.Call(func() error { return nil })
	cb.Call(func() error { return errRefused })

	state, consecutive, total := cb.Stats()
	if state != StateClosed {
		t.Errorf("Expected closed, got %s", state)
	}
	if consecutive != 1 {
		t.Errorf("Expected 1 consecutive failure, got %d", consecutive)
	}
	if total != 2 {
		t.Errorf("Expected 2 total failures, got %d", total)
	}
	if cb.LastFailure().IsZero() {
		t.Error("Expected last failure time to be set")
	}
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	cb := New(Config{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return errors.Is(err, errRefused) },
	})

	if err := cb.Call(func() error { return errOther }); err != errOther {
		t.Fatalf("Expected errOther, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatal("Uncounted error must not open the breaker")
	}

	cb.Call(func() error { return errRefused })
	if cb.State() != StateOpen {
		t.Error("Expected open after counted failure")
	}
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := New(Config{})
	for i := 0; i < DefaultMaxFailures-1; i++ {
		cb.Call(func() error { return errOther })
	}
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed before %d failures", DefaultMaxFailures)
	}
	cb.Call(func() error { return errOther })
	if cb.State() != StateOpen {
		t.Errorf("Expected open after %d failures", DefaultMaxFailures)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb := New(Config{MaxFailures: 1})

	changes := make(chan [2]State, 1)
	cb.OnStateChange(func(from, to State) {
		changes <- [2]State{from, to}
	})

	cb.Call(func() error { return errRefused })

	select {
	case c := <-changes:
		if c[0] != StateClosed || c[1] != StateOpen {
			t.Errorf("Expected closed->open, got %s->%s", c[0], c[1])
		}
	case <-time.After(time.Second):
		t.Error("State change callback not called")
	}
}
