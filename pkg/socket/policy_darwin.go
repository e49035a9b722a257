// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build darwin

package socket

import "net"

// en0 has historically been index 12 on macOS hardware.
const darwinFallbackIndex = 12

// DefaultPolicy tries en0 first, then the sequential search.
func DefaultPolicy(n int) MulticastPolicy {
	idx := darwinFallbackIndex
	if ifi, err := net.InterfaceByName("en0"); err == nil {
		idx = ifi.Index
	}
	return FixedPolicy(preferFirst(idx, SequentialPolicy{N: n}.Candidates()))
}
