// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// listenPeer binds a plain UDP socket standing in for the application
// on the other side of the bridge.
func listenPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen peer: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return peer
}

func listenTransport(t *testing.T, config Config) *UDP {
	t.Helper()
	config.LocalAddress = "127.0.0.1"
	config.Logger = discardLogger()
	transport, err := Listen(context.Background(), config)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { transport.Close() })
	return transport
}

func readDatagram(t *testing.T, peer *net.UDPConn) []byte {
	t.Helper()
	buffer := make([]byte, 65535)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	count, _, err := peer.ReadFromUDP(buffer)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	return buffer[:count]
}

func TestSendReachesDestination(t *testing.T) {
	peer := listenPeer(t)
	transport := listenTransport(t, Config{RemoteAddress: peer.LocalAddr().String()})

	if err := transport.Send([]byte("log line\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := readDatagram(t, peer); string(got) != "log line\n" {
		t.Fatalf("peer received %q", got)
	}
}

func TestSendSplitsLargePayloads(t *testing.T) {
	peer := listenPeer(t)
	transport := listenTransport(t, Config{
		RemoteAddress:   peer.LocalAddr().String(),
		MaxDatagramSize: 4,
	})

	if err := transport.Send([]byte("abcdefghij")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	for _, want := range []string{"abcd", "efgh", "ij"} {
		if got := readDatagram(t, peer); string(got) != want {
			t.Fatalf("peer received %q, want %q", got, want)
		}
	}
}

func TestSendEmptyIsNoOp(t *testing.T) {
	peer := listenPeer(t)
	transport := listenTransport(t, Config{RemoteAddress: peer.LocalAddr().String()})
	if err := transport.Send(nil); err != nil {
		t.Fatalf("Send(nil): %v", err)
	}
	peer.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if count, _, err := peer.ReadFromUDP(make([]byte, 16)); err == nil {
		t.Fatalf("peer received %d bytes from an empty send", count)
	}
}

func TestReceiveRecordsSender(t *testing.T) {
	peer := listenPeer(t)
	transport := listenTransport(t, Config{RemoteAddress: peer.LocalAddr().String()})

	if transport.LastSender() != nil {
		t.Fatal("LastSender set before any datagram")
	}
	if _, err := peer.WriteToUDP([]byte("reset"), transport.LocalAddr()); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	payload, err := transport.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(payload) != "reset" {
		t.Fatalf("Receive = %q", payload)
	}
	if sender := transport.LastSender(); sender == nil || sender.Port != peer.LocalAddr().(*net.UDPAddr).Port {
		t.Fatalf("LastSender = %v, want %v", sender, peer.LocalAddr())
	}
}

func TestReceiveTimeoutReturnsNothing(t *testing.T) {
	peer := listenPeer(t)
	transport := listenTransport(t, Config{RemoteAddress: peer.LocalAddr().String()})

	started := time.Now()
	payload, err := transport.Receive(20 * time.Millisecond)
	if err != nil || payload != nil {
		t.Fatalf("Receive = %q, %v; want nil, nil", payload, err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("Receive took %v", elapsed)
	}
}

func TestReceiveAfterClose(t *testing.T) {
	peer := listenPeer(t)
	transport := listenTransport(t, Config{RemoteAddress: peer.LocalAddr().String()})
	if err := transport.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := transport.Receive(time.Second); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("Receive after Close = %v, want net.ErrClosed", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestListenFixedPortRebinds(t *testing.T) {
	peer := listenPeer(t)
	first := listenTransport(t, Config{RemoteAddress: peer.LocalAddr().String()})
	port := first.LocalAddr().Port
	first.Close()

	second := listenTransport(t, Config{RemoteAddress: peer.LocalAddr().String(), LocalPort: port})
	if second.LocalAddr().Port != port {
		t.Fatalf("bound port %d, want %d", second.LocalAddr().Port, port)
	}
}

func TestListenSetupFailures(t *testing.T) {
	configs := []Config{
		{RemoteAddress: "not an address"},
		{RemoteAddress: "127.0.0.1"},
		{RemoteAddress: "127.0.0.1:8888", LocalPort: 70000},
		{RemoteAddress: "127.0.0.1:8888", LocalAddress: "192.0.2.1"},
	}
	for _, config := range configs {
		config.Logger = discardLogger()
		transport, err := Listen(context.Background(), config)
		if !errors.Is(err, ErrSetupFailed) {
			if transport != nil {
				transport.Close()
			}
			t.Errorf("Listen(%+v) = %v, want ErrSetupFailed", config, err)
		}
	}
}
