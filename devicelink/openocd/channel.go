// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package openocd

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/bureau-foundation/rtt2udp/devicelink"
	"github.com/bureau-foundation/rtt2udp/lib/netutil"
)

// dataChannel is the TCP socket OpenOCD's rtt server exposes for one
// buffer index. A pump goroutine moves inbound bytes into pending;
// ReadAvailable drains pending without touching the network.
type dataChannel struct {
	index  int
	port   int
	conn   net.Conn
	limit  int
	logger *slog.Logger

	mu       sync.Mutex
	drained  *sync.Cond
	pending  []byte
	pumpErr  error
	closed   bool
	pumpDone chan struct{}
}

func newDataChannel(index, port int, conn net.Conn, limit int, logger *slog.Logger) *dataChannel {
	channel := &dataChannel{
		index:    index,
		port:     port,
		conn:     conn,
		limit:    limit,
		logger:   logger,
		pumpDone: make(chan struct{}),
	}
	channel.drained = sync.NewCond(&channel.mu)
	go channel.pump()
	return channel
}

func (c *dataChannel) pump() {
	defer close(c.pumpDone)
	chunk := make([]byte, 4096)
	for {
		count, err := c.conn.Read(chunk)
		c.mu.Lock()
		if count > 0 {
			c.pending = append(c.pending, chunk[:count]...)
		}
		if err != nil {
			if !c.closed && !netutil.IsExpectedCloseError(err) {
				c.logger.Warn("rtt data channel read failed",
					"buffer_index", c.index,
					"port", c.port,
					"error", err,
				)
			}
			c.pumpErr = err
			c.mu.Unlock()
			return
		}
		// Hold off reading while the consumer is behind; OpenOCD keeps
		// the remainder in the target's ring buffer.
		for len(c.pending) >= c.limit && !c.closed {
			c.drained.Wait()
		}
		stop := c.closed
		c.mu.Unlock()
		if stop {
			return
		}
	}
}

// read returns up to maxBytes of pending data. After the socket fails
// and pending is empty it returns the socket error.
func (c *dataChannel) read(maxBytes int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		if c.pumpErr != nil {
			return nil, fmt.Errorf("%w: buffer %d: %w", devicelink.ErrReadFailed, c.index, c.pumpErr)
		}
		return nil, nil
	}
	count := min(len(c.pending), maxBytes)
	data := make([]byte, count)
	copy(data, c.pending)
	c.pending = c.pending[count:]
	if len(c.pending) == 0 {
		c.pending = nil
	}
	c.drained.Broadcast()
	return data, nil
}

func (c *dataChannel) write(data []byte) error {
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("%w: buffer %d: %w", devicelink.ErrWriteFailed, c.index, err)
	}
	return nil
}

// close shuts the socket and waits for the pump to exit.
func (c *dataChannel) close() {
	c.mu.Lock()
	c.closed = true
	c.drained.Broadcast()
	c.mu.Unlock()
	c.conn.Close()
	<-c.pumpDone
}
