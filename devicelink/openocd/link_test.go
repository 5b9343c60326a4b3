// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package openocd

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/rtt2udp/devicelink"
	"github.com/bureau-foundation/rtt2udp/lib/testutil"
)

func openLink(t *testing.T, server *fakeOpenOCD, config Config) *Link {
	t.Helper()
	config.RPCAddress = server.Address()
	config.CommandTimeout = 2 * time.Second
	link := New(config)
	if err := link.Open(context.Background(), "000123456"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { link.Close() })
	return link
}

func containsCommand(commands []string, want string) bool {
	for _, command := range commands {
		if command == want {
			return true
		}
	}
	return false
}

func TestOpenFailsWithoutServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	address := listener.Addr().String()
	listener.Close()

	link := New(Config{RPCAddress: address, CommandTimeout: time.Second})
	if err := link.Open(context.Background(), ""); !errors.Is(err, devicelink.ErrLinkOpenFailed) {
		t.Fatalf("Open = %v, want ErrLinkOpenFailed", err)
	}
}

func TestConnectAndDirectStart(t *testing.T) {
	server := startFakeOpenOCD(t, standardHandler)
	link := openLink(t, server, Config{})
	ctx := context.Background()

	speed, _ := devicelink.SpeedKHz(4000)
	if err := link.Connect(ctx, "stm32f4x.cpu", devicelink.SWD, speed); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := link.StartChannel(ctx, devicelink.AtAddress(0x20000668)); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}
	address, err := link.ControlBlockAddress(ctx)
	if err != nil || address != 0x20000668 {
		t.Fatalf("ControlBlockAddress = %s, %v", address, err)
	}

	commands := server.Commands()
	for _, want := range []string{
		"version",
		"targets {stm32f4x.cpu}",
		"adapter speed 4000",
		"rtt setup 0x20000668 16 {SEGGER RTT}",
		"rtt start",
	} {
		if !containsCommand(commands, want) {
			t.Errorf("command %q not sent; got %q", want, commands)
		}
	}
}

func TestConnectAutoSpeedLeavesAdapterAlone(t *testing.T) {
	server := startFakeOpenOCD(t, standardHandler)
	link := openLink(t, server, Config{})
	if err := link.Connect(context.Background(), "", devicelink.SWD, devicelink.SpeedAuto); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for _, command := range server.Commands() {
		if strings.HasPrefix(command, "adapter speed") || strings.HasPrefix(command, "targets") {
			t.Errorf("unexpected command %q", command)
		}
	}
}

func TestConnectRejectsTransportMismatch(t *testing.T) {
	server := startFakeOpenOCD(t, standardHandler)
	link := openLink(t, server, Config{})
	err := link.Connect(context.Background(), "", devicelink.JTAG, devicelink.SpeedAuto)
	if !errors.Is(err, devicelink.ErrTargetConnectFailed) {
		t.Fatalf("Connect = %v, want ErrTargetConnectFailed", err)
	}
}

func TestConnectRejectsUnknownState(t *testing.T) {
	server := startFakeOpenOCD(t, func(command string) (int, string) {
		if command == "[target current] curstate" {
			return 0, "unknown"
		}
		return standardHandler(command)
	})
	link := openLink(t, server, Config{})
	err := link.Connect(context.Background(), "", devicelink.SWD, devicelink.SpeedAuto)
	if !errors.Is(err, devicelink.ErrTargetConnectFailed) {
		t.Fatalf("Connect = %v, want ErrTargetConnectFailed", err)
	}
}

func TestDirectStartAtWrongAddressFails(t *testing.T) {
	server := startFakeOpenOCD(t, func(command string) (int, string) {
		if command == "rtt start" {
			return 0, "rtt: Searching for control block 'SEGGER RTT'\nrtt: No control block found"
		}
		return standardHandler(command)
	})
	link := openLink(t, server, Config{})
	if err := link.StartChannel(context.Background(), devicelink.AtAddress(0x20000000)); err == nil {
		t.Fatal("StartChannel succeeded without a control block")
	}
	if _, err := link.ControlBlockAddress(context.Background()); !errors.Is(err, devicelink.ErrChannelNotStarted) {
		t.Fatalf("ControlBlockAddress = %v, want ErrChannelNotStarted", err)
	}
}

func TestSearchRestartsUntilFound(t *testing.T) {
	var mu sync.Mutex
	starts := 0
	server := startFakeOpenOCD(t, func(command string) (int, string) {
		if command == "rtt start" {
			mu.Lock()
			defer mu.Unlock()
			starts++
			if starts < 3 {
				return 0, "rtt: No control block found"
			}
			return 0, "rtt: Control block found at 0x2000084c"
		}
		return standardHandler(command)
	})
	link := openLink(t, server, Config{})
	ctx := context.Background()

	window := devicelink.SearchRange{Start: 0x20000000, Length: 0x1000, Step: 4}
	if err := link.StartChannel(ctx, devicelink.InRange(window)); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}
	first, err := link.ControlBlockAddress(ctx)
	if err != nil || first != 0 {
		t.Fatalf("first poll = %s, %v", first, err)
	}
	second, err := link.ControlBlockAddress(ctx)
	if err != nil || second != 0x2000084C {
		t.Fatalf("second poll = %s, %v", second, err)
	}
	// Once found, no further searches are issued.
	if _, err := link.ControlBlockAddress(ctx); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if starts != 3 {
		t.Fatalf("rtt start issued %d times, want 3", starts)
	}
	if !containsCommand(server.Commands(), "rtt setup 0x20000000 4096 {SEGGER RTT}") {
		t.Fatalf("search setup not sent: %q", server.Commands())
	}
}

func TestDataChannelReadWrite(t *testing.T) {
	dataListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer dataListener.Close()
	dataPort := dataListener.Addr().(*net.TCPAddr).Port

	server := startFakeOpenOCD(t, standardHandler)
	link := openLink(t, server, Config{DataPortBase: dataPort})
	ctx := context.Background()
	if err := link.StartChannel(ctx, devicelink.AtAddress(0x20000668)); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := dataListener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	// The first read opens the socket; nothing is pending yet.
	data, err := link.ReadAvailable(0, 64)
	if err != nil || len(data) != 0 {
		t.Fatalf("first read = %q, %v", data, err)
	}
	target := testutil.RequireReceive(t, accepted, 2*time.Second, "rtt server connection")
	defer target.Close()

	if _, err := target.Write([]byte("hello from target")); err != nil {
		t.Fatal(err)
	}
	var received []byte
	testutil.Eventually(t, 2*time.Second, func() bool {
		chunk, err := link.ReadAvailable(0, 5)
		if err != nil {
			t.Fatalf("ReadAvailable: %v", err)
		}
		received = append(received, chunk...)
		return len(received) == len("hello from target")
	}, "target data never arrived")
	if string(received) != "hello from target" {
		t.Fatalf("received %q", received)
	}

	if err := link.Write(0, []byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reply := make([]byte, 4)
	target.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(target, reply); err != nil || string(reply) != "ping" {
		t.Fatalf("target read %q, %v", reply, err)
	}

	if err := link.StopChannel(ctx); err != nil {
		t.Fatalf("StopChannel: %v", err)
	}
	commands := server.Commands()
	for _, want := range []string{"rtt server start " + strconv.Itoa(dataPort) + " 0", "rtt server stop " + strconv.Itoa(dataPort), "rtt stop"} {
		if !containsCommand(commands, want) {
			t.Errorf("command %q not sent; got %q", want, commands)
		}
	}
	if _, err := link.ReadAvailable(0, 64); !errors.Is(err, devicelink.ErrChannelNotStarted) {
		t.Fatalf("read after stop = %v, want ErrChannelNotStarted", err)
	}
}

func TestReadBeforeStartFails(t *testing.T) {
	server := startFakeOpenOCD(t, standardHandler)
	link := openLink(t, server, Config{})
	if _, err := link.ReadAvailable(0, 64); !errors.Is(err, devicelink.ErrReadFailed) {
		t.Fatalf("ReadAvailable = %v, want ErrReadFailed", err)
	}
	if err := link.Write(0, []byte("x")); !errors.Is(err, devicelink.ErrWriteFailed) {
		t.Fatalf("Write = %v, want ErrWriteFailed", err)
	}
}

func TestIsAlive(t *testing.T) {
	var mu sync.Mutex
	state := "halted"
	server := startFakeOpenOCD(t, func(command string) (int, string) {
		if command == "[target current] curstate" {
			mu.Lock()
			defer mu.Unlock()
			return 0, state
		}
		return standardHandler(command)
	})
	link := openLink(t, server, Config{})
	if !link.IsAlive() {
		t.Fatal("IsAlive = false for a halted target")
	}

	mu.Lock()
	state = "unknown"
	mu.Unlock()
	if link.IsAlive() {
		t.Fatal("IsAlive = true for an unknown target")
	}

	server.Close()
	if link.IsAlive() {
		t.Fatal("IsAlive = true after openocd went away")
	}
	link.Close()
	if link.IsAlive() {
		t.Fatal("IsAlive = true after Close")
	}
}
