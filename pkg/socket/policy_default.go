// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !darwin && !windows

package socket

// DefaultPolicy tries indices 0..n-1.
func DefaultPolicy(n int) MulticastPolicy {
	return SequentialPolicy{N: n}
}
