// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package addr

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	derrors "github.com/absmach/dispatch/pkg/errors"
)

type stubResolver struct {
	ips []netip.Addr
	err error
}

func (s stubResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	return s.ips, s.err
}

func TestResolve_Literals(t *testing.T) {
	tests := []struct {
		input     string
		want      string
		family    Family
		multicast bool
	}{
		{"127.0.0.1:9910", "127.0.0.1:9910", IPv4, false},
		{"0.0.0.0:8890", "0.0.0.0:8890", IPv4, false},
		{"224.0.0.110:9911", "224.0.0.110:9911", IPv4, true},
		{"[::1]:9921", "[::1]:9921", IPv6, false},
		{"[ff02::1]:9923", "[ff02::1]:9923", IPv6, true},
		{"[::ffff:127.0.0.1]:9000", "127.0.0.1:9000", IPv4, false},
		{":9000", "0.0.0.0:9000", IPv4, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			a, err := Resolve(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.input, err)
			}
			if a.String() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, a)
			}
			if a.Family() != tt.family {
				t.Errorf("expected family %s, got %s", tt.family, a.Family())
			}
			if a.IsMulticast() != tt.multicast {
				t.Errorf("expected multicast=%v", tt.multicast)
			}
		})
	}
}

func TestResolve_Malformed(t *testing.T) {
	inputs := []string{
		"127.0.0.1",
		"::1:9000",
		"127.0.0.1:99999",
		"127.0.0.1:port",
		"[fe80::1%eth0]:9000",
		"",
	}

	for _, in := range inputs {
		_, err := Resolve(context.Background(), in)
		if err == nil {
			t.Errorf("expected error for %q", in)
			continue
		}
		if !errors.Is(err, derrors.ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress for %q, got %v", in, err)
		}
		if !derrors.IsFatalToProcess(err) {
			t.Errorf("expected configuration class for %q", in)
		}
	}
}

func TestResolveWith_FirstCandidate(t *testing.T) {
	r := stubResolver{ips: []netip.Addr{
		netip.MustParseAddr("10.0.0.7"),
		netip.MustParseAddr("10.0.0.8"),
	}}

	a, err := ResolveWith(context.Background(), r, "logs.internal:5000")
	if err != nil {
		t.Fatalf("ResolveWith failed: %v", err)
	}
	if a.String() != "10.0.0.7:5000" {
		t.Errorf("expected first candidate, got %s", a)
	}
}

func TestResolveWith_NoCandidates(t *testing.T) {
	_, err := ResolveWith(context.Background(), stubResolver{}, "nowhere.internal:5000")
	if !errors.Is(err, derrors.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}

	_, err = ResolveWith(context.Background(), stubResolver{err: errors.New("nxdomain")}, "nowhere.internal:5000")
	if !errors.Is(err, derrors.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestResolveAll(t *testing.T) {
	list, err := ResolveAll(context.Background(), []string{"127.0.0.1:1", "[::1]:2"})
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	if len(list) != 2 || list[0].Port() != 1 || list[1].Family() != IPv6 {
		t.Errorf("unexpected result %v", list)
	}

	if _, err := ResolveAll(context.Background(), []string{"127.0.0.1:1", "bad"}); err == nil {
		t.Error("expected error for bad entry")
	}
}

func TestUnspecified(t *testing.T) {
	if got := Unspecified(IPv6, 9923).String(); got != "[::]:9923" {
		t.Errorf("expected [::]:9923, got %s", got)
	}
	if got := Unspecified(IPv4, 0).String(); got != "0.0.0.0:0" {
		t.Errorf("expected 0.0.0.0:0, got %s", got)
	}
	if IPv6.Network("udp") != "udp6" || IPv4.Network("tcp") != "tcp4" {
		t.Error("unexpected network names")
	}
}
