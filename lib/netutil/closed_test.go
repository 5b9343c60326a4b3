// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped closed", fmt.Errorf("read: %w", net.ErrClosed), true},
		{"broken pipe", syscall.EPIPE, true},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, true},
		{"other", errors.New("boom"), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsExpectedCloseError(test.err); got != test.want {
				t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}

func TestIsTimeoutOnReadDeadline(t *testing.T) {
	connection, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer connection.Close()

	connection.SetReadDeadline(time.Now().Add(time.Millisecond))
	buffer := make([]byte, 16)
	_, _, err = connection.ReadFrom(buffer)
	if !IsTimeout(err) {
		t.Fatalf("IsTimeout(%v) = false", err)
	}
	if IsTimeout(io.EOF) {
		t.Fatal("IsTimeout(io.EOF) = true")
	}
}

func TestIsConnectionRefused(t *testing.T) {
	if !IsConnectionRefused(fmt.Errorf("write: %w", syscall.ECONNREFUSED)) {
		t.Fatal("wrapped ECONNREFUSED not recognized")
	}
	if IsConnectionRefused(io.EOF) {
		t.Fatal("io.EOF recognized as refused")
	}
}

func TestListenConfigReuseAddress(t *testing.T) {
	config := ListenConfig(true)
	first, err := config.ListenPacket(context.Background(), "udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	address := first.LocalAddr().String()
	first.Close()

	second, err := config.ListenPacket(context.Background(), "udp", address)
	if err != nil {
		t.Fatalf("rebinding %s: %v", address, err)
	}
	second.Close()
}
