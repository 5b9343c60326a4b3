// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package openocd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// rpcTerminator ends every TCL-RPC command and response.
const rpcTerminator = 0x1a

// ErrCommandFailed is returned when OpenOCD evaluates a command and
// reports a non-zero Tcl status.
var ErrCommandFailed = errors.New("openocd: command failed")

// rpcClient is a TCL-RPC connection. Commands are serialized: OpenOCD
// answers them strictly in order on a single connection.
type rpcClient struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

func dialRPC(ctx context.Context, address string, timeout time.Duration) (*rpcClient, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &rpcClient{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

// wrapCommand makes OpenOCD prefix the captured output with the Tcl
// status code of the command.
func wrapCommand(command string) string {
	return `format "%d\n%s" [catch {capture {` + command + `}} result] $result`
}

// parseResult splits a wrapped response into the command output and a
// non-nil error when the status code is not TCL_OK.
func parseResult(response string) (string, error) {
	statusText, output, _ := strings.Cut(response, "\n")
	status, err := strconv.Atoi(strings.TrimSpace(statusText))
	if err != nil {
		return "", fmt.Errorf("openocd: malformed response %q", response)
	}
	output = strings.TrimRight(output, "\r\n")
	if status != 0 {
		return output, fmt.Errorf("%w (status %d): %s", ErrCommandFailed, status, output)
	}
	return output, nil
}

// Command evaluates one Tcl command and returns its captured output.
// The call is bounded by the client timeout and by ctx.
func (c *rpcClient) Command(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return "", net.ErrClosed
	}
	deadline := time.Now().Add(c.timeout)
	if contextDeadline, ok := ctx.Deadline(); ok && contextDeadline.Before(deadline) {
		deadline = contextDeadline
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", err
	}
	conn := c.conn
	stopInterrupt := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stopInterrupt()

	request := append([]byte(wrapCommand(command)), rpcTerminator)
	if _, err := c.conn.Write(request); err != nil {
		c.abandonLocked()
		return "", c.contextError(ctx, fmt.Errorf("openocd: sending %q: %w", command, err))
	}
	response, err := c.reader.ReadBytes(rpcTerminator)
	if err != nil {
		c.abandonLocked()
		return "", c.contextError(ctx, fmt.Errorf("openocd: reading response to %q: %w", command, err))
	}
	return parseResult(string(bytes.TrimSuffix(response, []byte{rpcTerminator})))
}

// abandonLocked drops a connection whose request/response stream may
// be out of step after a failed exchange.
func (c *rpcClient) abandonLocked() {
	c.conn.Close()
	c.conn = nil
}

// contextError prefers the context's error when the context ended the
// exchange, so callers see context.Canceled instead of an i/o timeout.
func (c *rpcClient) contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close closes the connection. Safe to call more than once.
func (c *rpcClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
