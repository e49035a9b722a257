// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package socket

// DefaultMaxInterfaceProbes bounds the IPv6 multicast interface search.
const DefaultMaxInterfaceProbes = 32

// MulticastPolicy yields, in order, the interface indices to try when
// binding an IPv6 multicast listener. Index 0 means "any interface".
type MulticastPolicy interface {
	Candidates() []int
}

// SequentialPolicy tries indices 0..N-1.
type SequentialPolicy struct {
	N int
}

var _ MulticastPolicy = SequentialPolicy{}

func (p SequentialPolicy) Candidates() []int {
	n := p.N
	if n <= 0 {
		n = DefaultMaxInterfaceProbes
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// FixedPolicy tries exactly the given indices.
type FixedPolicy []int

func (p FixedPolicy) Candidates() []int {
	return append([]int(nil), p...)
}

// preferFirst moves idx to the front of seq, dropping its later duplicate.
func preferFirst(idx int, seq []int) []int {
	out := make([]int, 0, len(seq)+1)
	out = append(out, idx)
	for _, i := range seq {
		if i != idx {
			out = append(out, i)
		}
	}
	return out
}
