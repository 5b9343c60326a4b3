// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenConfig returns the configuration for binding a UDP socket.
// With reuseAddress set, SO_REUSEADDR is enabled before bind so a
// fixed local port can be re-bound immediately after a previous
// session released it.
func ListenConfig(reuseAddress bool) *net.ListenConfig {
	if !reuseAddress {
		return &net.ListenConfig{}
	}
	return &net.ListenConfig{
		Control: func(network, address string, raw syscall.RawConn) error {
			var optionErr error
			err := raw.Control(func(fd uintptr) {
				optionErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return optionErr
		},
	}
}
