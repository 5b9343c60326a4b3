// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package openocd

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWrapCommandRoundTrip(t *testing.T) {
	wrapped := wrapCommand("rtt setup 0x20000000 4096 {SEGGER RTT}")
	if got := unwrapCommand(wrapped); got != "rtt setup 0x20000000 4096 {SEGGER RTT}" {
		t.Fatalf("unwrapped %q", got)
	}
}

func TestParseResult(t *testing.T) {
	output, err := parseResult("0\nOpen On-Chip Debugger 0.12.0\n")
	if err != nil || output != "Open On-Chip Debugger 0.12.0" {
		t.Fatalf("parseResult ok = %q, %v", output, err)
	}

	output, err = parseResult("1\ninvalid command name \"bogus\"")
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("parseResult failure = %v, want ErrCommandFailed", err)
	}
	if output != "invalid command name \"bogus\"" {
		t.Fatalf("failure output = %q", output)
	}

	if _, err := parseResult("not a status"); err == nil {
		t.Fatal("malformed response parsed")
	}

	output, err = parseResult("0\n")
	if err != nil || output != "" {
		t.Fatalf("empty output = %q, %v", output, err)
	}
}

func TestRPCCommand(t *testing.T) {
	server := startFakeOpenOCD(t, standardHandler)
	client, err := dialRPC(context.Background(), server.Address(), time.Second)
	if err != nil {
		t.Fatalf("dialRPC: %v", err)
	}
	defer client.Close()

	version, err := client.Command(context.Background(), "version")
	if err != nil || version != "Open On-Chip Debugger 0.12.0" {
		t.Fatalf("version = %q, %v", version, err)
	}
	if _, err := client.Command(context.Background(), "bogus"); !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("bogus = %v, want ErrCommandFailed", err)
	}
	// The connection stays usable after a failed command.
	if _, err := client.Command(context.Background(), "version"); err != nil {
		t.Fatalf("version after failure: %v", err)
	}
}

func TestRPCCommandHonorsCancellation(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	server := startFakeOpenOCD(t, func(command string) (int, string) {
		<-block
		return 0, ""
	})
	client, err := dialRPC(context.Background(), server.Address(), time.Minute)
	if err != nil {
		t.Fatalf("dialRPC: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	if _, err := client.Command(ctx, "version"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Command = %v, want context.Canceled", err)
	}
}
