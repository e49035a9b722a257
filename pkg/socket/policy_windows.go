// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package socket

// DefaultPolicy binds to the unspecified address, so only index 0 is tried.
func DefaultPolicy(int) MulticastPolicy {
	return FixedPolicy{0}
}
