// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package openocd

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
)

// fakeOpenOCD answers TCL-RPC commands with a handler. It unwraps the
// status-capturing wrapper so handlers see plain commands.
type fakeOpenOCD struct {
	listener net.Listener
	handle   func(command string) (status int, output string)

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
}

func startFakeOpenOCD(t *testing.T, handle func(command string) (int, string)) *fakeOpenOCD {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &fakeOpenOCD{listener: listener, handle: handle}
	go server.serve()
	t.Cleanup(server.Close)
	return server
}

func (s *fakeOpenOCD) Address() string { return s.listener.Addr().String() }

func (s *fakeOpenOCD) Close() {
	s.listener.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
}

func (s *fakeOpenOCD) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *fakeOpenOCD) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

func (s *fakeOpenOCD) serveConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		request, err := reader.ReadBytes(rpcTerminator)
		if err != nil {
			return
		}
		command := unwrapCommand(string(bytes.TrimSuffix(request, []byte{rpcTerminator})))
		s.mu.Lock()
		s.commands = append(s.commands, command)
		s.mu.Unlock()

		status, output := s.handle(command)
		response := fmt.Sprintf("%d\n%s", status, output)
		if _, err := conn.Write(append([]byte(response), rpcTerminator)); err != nil {
			return
		}
	}
}

func unwrapCommand(wrapped string) string {
	start := strings.Index(wrapped, "capture {")
	end := strings.LastIndex(wrapped, "}} result]")
	if start < 0 || end < start {
		return wrapped
	}
	return wrapped[start+len("capture {") : end]
}

// standardHandler answers the setup commands of a healthy SWD target
// whose control block sits at 0x20000668.
func standardHandler(command string) (int, string) {
	switch {
	case command == "version":
		return 0, "Open On-Chip Debugger 0.12.0"
	case command == "transport select":
		return 0, "swd"
	case strings.HasPrefix(command, "targets"):
		return 0, ""
	case strings.HasPrefix(command, "adapter speed"):
		return 0, "adapter speed: 4000 kHz"
	case command == "[target current] curstate":
		return 0, "running"
	case strings.HasPrefix(command, "rtt setup"):
		return 0, ""
	case command == "rtt start":
		return 0, "rtt: Searching for control block 'SEGGER RTT'\nrtt: Control block found at 0x20000668"
	case strings.HasPrefix(command, "rtt"):
		return 0, ""
	}
	return 1, "invalid command name \"" + command + "\""
}
