// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal termination of
// a socket: EOF, use of a closed connection, broken pipe, or connection
// reset. These occur when Stop closes a socket that a pipeline is
// blocked on and should not be logged as failures.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsTimeout reports whether err is a read or write deadline expiring.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnectionRefused reports whether err is ECONNREFUSED. On Linux a
// UDP socket surfaces a previous datagram's ICMP port-unreachable this
// way; for a fire-and-forget sender it only means nobody is listening
// yet.
func IsConnectionRefused(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.ECONNREFUSED
}
