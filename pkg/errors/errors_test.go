// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestRelayError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class Class
		msg   string
	}{
		{
			name:  "config",
			err:   Config("resolve", "bad:addr:1", ErrInvalidAddress),
			class: ClassProcess,
			msg:   "resolve bad:addr:1: invalid address",
		},
		{
			name:  "loop",
			err:   Loop("recv", "0.0.0.0:9910", ErrEmptyDatagram),
			class: ClassLoop,
			msg:   "recv 0.0.0.0:9910: zero-length datagram",
		},
		{
			name:  "no address",
			err:   New("join", "", ClassRetryable, ErrNoMulticastInterface),
			class: ClassRetryable,
			msg:   "join: no suitable multicast interface",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.class {
				t.Errorf("expected class %s, got %s", tt.class, got)
			}
			if tt.err.Error() != tt.msg {
				t.Errorf("expected message %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestClassOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("starting forward: %w", Config("bind", "224.0.0.110:9911", errors.New("boom")))
	if !IsFatalToProcess(err) {
		t.Error("expected wrapped config error to be fatal to process")
	}

	if ClassOf(errors.New("plain")) != ClassLoop {
		t.Error("expected plain errors to be loop-fatal")
	}

	if IsFatalToProcess(nil) {
		t.Error("nil must not be fatal")
	}
}

func TestNew_Nil(t *testing.T) {
	if New("send", "127.0.0.1:1", ClassLoop, nil) != nil {
		t.Error("expected nil for nil error")
	}
	if Wrap(nil, "context") != nil {
		t.Error("expected nil wrap for nil error")
	}
}

func TestUnwrap(t *testing.T) {
	err := Loop("send", "127.0.0.1:8891", ErrTargetUnreachable)
	if !errors.Is(err, ErrTargetUnreachable) {
		t.Error("expected errors.Is to see the sentinel")
	}
}
