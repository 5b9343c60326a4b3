// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bureau-foundation/rtt2udp/lib/netutil"
)

// ErrSetupFailed is returned by Listen when the destination cannot be
// resolved or the local socket cannot be bound.
var ErrSetupFailed = errors.New("transport: udp setup failed")

const (
	// DefaultLocalAddress binds all IPv4 interfaces.
	DefaultLocalAddress = "0.0.0.0"
	// DefaultSocketBuffer is the kernel send and receive buffer size.
	DefaultSocketBuffer = 64 * 1024
	// DefaultMaxDatagramSize is the largest payload put in a single
	// datagram by Send.
	DefaultMaxDatagramSize = 8192
	// receiveBufferSize holds the largest possible UDP payload.
	receiveBufferSize = 65535
)

// Config describes both ends of the UDP socket.
type Config struct {
	// RemoteAddress is the destination, "host:port".
	RemoteAddress string

	// LocalAddress is the bind address. Empty means DefaultLocalAddress.
	LocalAddress string
	// LocalPort is the bind port. Zero picks an ephemeral port.
	LocalPort int

	// SocketBuffer sizes SO_SNDBUF and SO_RCVBUF. Zero means
	// DefaultSocketBuffer.
	SocketBuffer int
	// MaxDatagramSize splits larger Send payloads. Zero means
	// DefaultMaxDatagramSize.
	MaxDatagramSize int

	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger
}

// UDP is a bound socket with a fixed destination. Send and Receive
// may be called concurrently with each other; Receive itself must be
// called from one goroutine at a time.
type UDP struct {
	conn            *net.UDPConn
	remote          *net.UDPAddr
	maxDatagramSize int
	logger          *slog.Logger
	receiveBuffer   []byte

	mu         sync.Mutex
	lastSender *net.UDPAddr
	closed     bool
}

// Listen resolves the destination and binds the local socket.
func Listen(ctx context.Context, config Config) (*UDP, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.LocalAddress == "" {
		config.LocalAddress = DefaultLocalAddress
	}
	if config.SocketBuffer <= 0 {
		config.SocketBuffer = DefaultSocketBuffer
	}
	if config.MaxDatagramSize <= 0 {
		config.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if config.LocalPort < 0 || config.LocalPort > 65535 {
		return nil, fmt.Errorf("%w: local port %d out of range", ErrSetupFailed, config.LocalPort)
	}

	remote, err := net.ResolveUDPAddr("udp", config.RemoteAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving destination %q: %w", ErrSetupFailed, config.RemoteAddress, err)
	}
	if remote.Port == 0 {
		return nil, fmt.Errorf("%w: destination %q has no port", ErrSetupFailed, config.RemoteAddress)
	}

	bindAddress := net.JoinHostPort(config.LocalAddress, strconv.Itoa(config.LocalPort))
	packetConn, err := netutil.ListenConfig(config.LocalPort != 0).ListenPacket(ctx, "udp", bindAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: binding %s: %w", ErrSetupFailed, bindAddress, err)
	}
	conn := packetConn.(*net.UDPConn)

	if err := conn.SetWriteBuffer(config.SocketBuffer); err != nil {
		logger.Debug("setting udp send buffer failed", "size", config.SocketBuffer, "error", err)
	}
	if err := conn.SetReadBuffer(config.SocketBuffer); err != nil {
		logger.Debug("setting udp receive buffer failed", "size", config.SocketBuffer, "error", err)
	}

	transport := &UDP{
		conn:            conn,
		remote:          remote,
		maxDatagramSize: config.MaxDatagramSize,
		logger:          logger,
		receiveBuffer:   make([]byte, receiveBufferSize),
	}
	logger.Info("udp transport ready",
		"local_addr", conn.LocalAddr().String(),
		"remote_addr", remote.String(),
	)
	return transport, nil
}

// Send writes payload to the destination, split into datagrams of at
// most the configured size. An empty payload sends nothing.
func (u *UDP) Send(payload []byte) error {
	for offset := 0; offset < len(payload); offset += u.maxDatagramSize {
		end := min(offset+u.maxDatagramSize, len(payload))
		if _, err := u.conn.WriteToUDP(payload[offset:end], u.remote); err != nil {
			return fmt.Errorf("transport: sending %d bytes to %s: %w", end-offset, u.remote, err)
		}
	}
	return nil
}

// Receive waits up to timeout for one datagram. It returns (nil, nil)
// when nothing arrived and an error matching net.ErrClosed after
// Close. The returned slice is owned by the caller.
func (u *UDP) Receive(timeout time.Duration) ([]byte, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("transport: setting read deadline: %w", err)
	}
	count, sender, err := u.conn.ReadFromUDP(u.receiveBuffer)
	if err != nil {
		if netutil.IsTimeout(err) || netutil.IsConnectionRefused(err) {
			return nil, nil
		}
		return nil, err
	}

	u.mu.Lock()
	u.lastSender = sender
	u.mu.Unlock()

	payload := make([]byte, count)
	copy(payload, u.receiveBuffer[:count])
	return payload, nil
}

// LocalAddr returns the bound address, useful with an ephemeral port.
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// RemoteAddr returns the resolved destination.
func (u *UDP) RemoteAddr() *net.UDPAddr {
	return u.remote
}

// LastSender returns the source of the most recent datagram, or nil.
func (u *UDP) LastSender() *net.UDPAddr {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastSender
}

// Close closes the socket. A blocked Receive returns net.ErrClosed.
// Safe to call more than once.
func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	if err := u.conn.Close(); err != nil {
		return fmt.Errorf("transport: closing socket: %w", err)
	}
	u.logger.Debug("udp transport closed", "local_addr", u.conn.LocalAddr().String())
	return nil
}
