// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package netutil

import "net"

// ListenConfig returns the configuration for binding a UDP socket.
// Address reuse is left to the platform default.
func ListenConfig(reuseAddress bool) *net.ListenConfig {
	return &net.ListenConfig{}
}
