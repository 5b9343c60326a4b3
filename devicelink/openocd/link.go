// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package openocd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/rtt2udp/devicelink"
)

const (
	// DefaultRPCAddress is OpenOCD's default tcl_port.
	DefaultRPCAddress = "127.0.0.1:6666"
	// DefaultDataPortBase is the TCP port used for buffer index 0;
	// index n uses DefaultDataPortBase+n.
	DefaultDataPortBase = 9090
	// DefaultChannelID is the identifier string at the start of the
	// control block.
	DefaultChannelID = "SEGGER RTT"
	// DefaultCommandTimeout bounds every RPC round trip.
	DefaultCommandTimeout = 5 * time.Second
	// DefaultPendingLimit bounds the bytes buffered per data socket.
	DefaultPendingLimit = 1 << 20

	// directWindow is the search size handed to "rtt setup" when the
	// control block address is already known: just the ID field.
	directWindow = 16
)

var controlBlockFound = regexp.MustCompile(`[Cc]ontrol block found at (0x[0-9a-fA-F]+)`)

var _ devicelink.Link = (*Link)(nil)

// Config locates the OpenOCD server. Zero fields take the defaults
// above.
type Config struct {
	RPCAddress     string
	DataPortBase   int
	ChannelID      string
	CommandTimeout time.Duration
	PendingLimit   int

	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger
}

// Link is a [devicelink.Link] driving OpenOCD over TCL-RPC.
type Link struct {
	config Config

	mu        sync.Mutex
	rpc       *rpcClient
	started   bool
	searching *devicelink.SearchRange
	found     devicelink.Address
	channels  map[int]*dataChannel
}

// New returns an unopened Link.
func New(config Config) *Link {
	if config.RPCAddress == "" {
		config.RPCAddress = DefaultRPCAddress
	}
	if config.DataPortBase == 0 {
		config.DataPortBase = DefaultDataPortBase
	}
	if config.ChannelID == "" {
		config.ChannelID = DefaultChannelID
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = DefaultCommandTimeout
	}
	if config.PendingLimit <= 0 {
		config.PendingLimit = DefaultPendingLimit
	}
	return &Link{
		config:   config,
		channels: make(map[int]*dataChannel),
	}
}

func (l *Link) logger() *slog.Logger {
	if l.config.Logger != nil {
		return l.config.Logger
	}
	return slog.Default()
}

// Open connects to the RPC port and checks that OpenOCD answers. The
// probe serial is chosen on the OpenOCD command line (adapter serial);
// it is recorded here for logging only.
func (l *Link) Open(ctx context.Context, serial string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rpc != nil {
		return fmt.Errorf("%w: already open", devicelink.ErrLinkOpenFailed)
	}

	client, err := dialRPC(ctx, l.config.RPCAddress, l.config.CommandTimeout)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %w", devicelink.ErrLinkOpenFailed, l.config.RPCAddress, err)
	}
	version, err := client.Command(ctx, "version")
	if err != nil {
		client.Close()
		return fmt.Errorf("%w: %w", devicelink.ErrLinkOpenFailed, err)
	}
	l.rpc = client

	l.logger().Info("connected to openocd",
		"rpc_address", l.config.RPCAddress,
		"openocd_version", version,
		"probe_serial", serial,
	)
	return nil
}

// Connect selects the target and checks the transport OpenOCD was
// configured with. OpenOCD cannot switch transports at runtime, so a
// mismatch is an error rather than a request.
func (l *Link) Connect(ctx context.Context, target string, debugInterface devicelink.Interface, speed devicelink.Speed) error {
	client, err := l.client()
	if err != nil {
		return fmt.Errorf("%w: %w", devicelink.ErrTargetConnectFailed, err)
	}

	if target != "" {
		if _, err := client.Command(ctx, "targets {"+target+"}"); err != nil {
			return fmt.Errorf("%w: selecting target %q: %w", devicelink.ErrTargetConnectFailed, target, err)
		}
	}

	transport, err := client.Command(ctx, "transport select")
	if err != nil {
		return fmt.Errorf("%w: querying transport: %w", devicelink.ErrTargetConnectFailed, err)
	}
	if !strings.Contains(strings.ToLower(transport), debugInterface.String()) {
		return fmt.Errorf("%w: openocd transport is %q, want %s",
			devicelink.ErrTargetConnectFailed, strings.TrimSpace(transport), debugInterface)
	}

	if kHz, fixed := speed.KHz(); fixed {
		if _, err := client.Command(ctx, "adapter speed "+strconv.FormatUint(uint64(kHz), 10)); err != nil {
			return fmt.Errorf("%w: setting speed %d kHz: %w", devicelink.ErrTargetConnectFailed, kHz, err)
		}
	} else if speed.IsAdaptive() {
		if _, err := client.Command(ctx, "adapter speed 0"); err != nil {
			return fmt.Errorf("%w: enabling adaptive clocking: %w", devicelink.ErrTargetConnectFailed, err)
		}
	}

	state, err := client.Command(ctx, "[target current] curstate")
	if err != nil {
		return fmt.Errorf("%w: reading target state: %w", devicelink.ErrTargetConnectFailed, err)
	}
	state = strings.TrimSpace(state)
	if state == "unknown" || state == "" {
		return fmt.Errorf("%w: target state is %q", devicelink.ErrTargetConnectFailed, state)
	}

	l.logger().Info("target connected",
		"target", target,
		"interface", debugInterface.String(),
		"speed", speed.String(),
		"state", state,
	)
	return nil
}

// StartChannel configures OpenOCD's rtt subsystem and starts it. For a
// direct start the control block must be found at exactly the given
// address. For a search the channel is started even when nothing is
// found yet; ControlBlockAddress keeps retrying.
func (l *Link) StartChannel(ctx context.Context, start devicelink.ChannelStart) error {
	if err := start.Validate(); err != nil {
		return err
	}
	client, err := l.client()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeChannelsLocked(ctx, client)
	l.started = false
	l.searching = nil
	l.found = 0

	origin, size := start.Address, uint32(directWindow)
	if start.Search != nil {
		origin, size = start.Search.Start, start.Search.Length
		if start.Search.Step != 1 {
			l.logger().Debug("openocd scans byte-wise; search step ignored", "step", start.Search.Step)
		}
	}

	setup := fmt.Sprintf("rtt setup %s %d {%s}", origin, size, l.config.ChannelID)
	if _, err := client.Command(ctx, setup); err != nil {
		return fmt.Errorf("openocd: rtt setup: %w", err)
	}
	found, err := l.startSearch(ctx, client)
	if err != nil {
		return err
	}

	if start.Search == nil {
		if found != start.Address {
			client.Command(ctx, "rtt stop")
			if found == 0 {
				return fmt.Errorf("openocd: no control block at %s", start.Address)
			}
			return fmt.Errorf("openocd: control block found at %s, not %s", found, start.Address)
		}
	} else {
		window := *start.Search
		l.searching = &window
	}
	l.found = found
	l.started = true
	return nil
}

// startSearch runs "rtt start" and reports the address OpenOCD found,
// or zero.
func (l *Link) startSearch(ctx context.Context, client *rpcClient) (devicelink.Address, error) {
	output, err := client.Command(ctx, "rtt start")
	if err != nil {
		return 0, fmt.Errorf("openocd: rtt start: %w", err)
	}
	return parseControlBlockFound(output)
}

// parseControlBlockFound extracts the address from "rtt start" output.
// Output without the found message means the search came up empty.
func parseControlBlockFound(output string) (devicelink.Address, error) {
	match := controlBlockFound.FindStringSubmatch(output)
	if match == nil {
		return 0, nil
	}
	return devicelink.ParseAddress(match[1])
}

func (l *Link) ControlBlockAddress(ctx context.Context) (devicelink.Address, error) {
	client, err := l.client()
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return 0, devicelink.ErrChannelNotStarted
	}
	if l.found != 0 || l.searching == nil {
		return l.found, nil
	}

	if _, err := client.Command(ctx, "rtt stop"); err != nil {
		return 0, fmt.Errorf("openocd: rtt stop: %w", err)
	}
	found, err := l.startSearch(ctx, client)
	if err != nil {
		return 0, err
	}
	l.found = found
	return found, nil
}

func (l *Link) ReadAvailable(index int, maxBytes int) ([]byte, error) {
	channel, err := l.channel(index)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", devicelink.ErrReadFailed, err)
	}
	if maxBytes <= 0 {
		return nil, nil
	}
	return channel.read(maxBytes)
}

func (l *Link) Write(index int, data []byte) error {
	channel, err := l.channel(index)
	if err != nil {
		return fmt.Errorf("%w: %w", devicelink.ErrWriteFailed, err)
	}
	return channel.write(data)
}

// channel returns the data socket for index, asking OpenOCD to start
// an rtt server for it on first use.
func (l *Link) channel(index int) (*dataChannel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if channel, ok := l.channels[index]; ok {
		return channel, nil
	}
	if !l.started || l.found == 0 {
		return nil, devicelink.ErrChannelNotStarted
	}
	if l.rpc == nil {
		return nil, devicelink.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.config.CommandTimeout)
	defer cancel()

	port := l.config.DataPortBase + index
	if _, err := l.rpc.Command(ctx, fmt.Sprintf("rtt server start %d %d", port, index)); err != nil {
		return nil, fmt.Errorf("openocd: starting rtt server on port %d: %w", port, err)
	}
	host, _, err := net.SplitHostPort(l.config.RPCAddress)
	if err != nil {
		return nil, fmt.Errorf("openocd: rpc address %q: %w", l.config.RPCAddress, err)
	}
	dialer := net.Dialer{Timeout: l.config.CommandTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		l.rpc.Command(ctx, fmt.Sprintf("rtt server stop %d", port))
		return nil, fmt.Errorf("openocd: connecting to rtt server on port %d: %w", port, err)
	}

	channel := newDataChannel(index, port, conn, l.config.PendingLimit, l.logger())
	l.channels[index] = channel
	l.logger().Debug("rtt data channel opened", "buffer_index", index, "port", port)
	return channel, nil
}

// IsAlive asks OpenOCD for the current target state. Any failure, or
// the "unknown" state OpenOCD reports after losing the target, counts
// as not alive.
func (l *Link) IsAlive() bool {
	client, err := l.client()
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.config.CommandTimeout)
	defer cancel()
	state, err := client.Command(ctx, "[target current] curstate")
	if err != nil {
		l.logger().Debug("target state query failed", "error", err)
		return false
	}
	return strings.TrimSpace(state) != "unknown"
}

// StopChannel stops every rtt server and the rtt subsystem.
func (l *Link) StopChannel(ctx context.Context) error {
	client, err := l.client()
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	errs := l.closeChannelsLocked(ctx, client)
	if l.started {
		if _, err := client.Command(ctx, "rtt stop"); err != nil {
			errs = append(errs, fmt.Errorf("openocd: rtt stop: %w", err))
		}
	}
	l.started = false
	l.searching = nil
	l.found = 0
	return errors.Join(errs...)
}

func (l *Link) closeChannelsLocked(ctx context.Context, client *rpcClient) []error {
	var errs []error
	for index, channel := range l.channels {
		if client != nil {
			if _, err := client.Command(ctx, fmt.Sprintf("rtt server stop %d", channel.port)); err != nil {
				errs = append(errs, fmt.Errorf("openocd: stopping rtt server on port %d: %w", channel.port, err))
			}
		}
		channel.close()
		delete(l.channels, index)
	}
	return errs
}

// Close closes the data sockets and the RPC connection. OpenOCD itself
// keeps running.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeChannelsLocked(context.Background(), nil)
	l.started = false
	if l.rpc == nil {
		return nil
	}
	err := l.rpc.Close()
	l.rpc = nil
	return err
}

func (l *Link) client() (*rpcClient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rpc == nil {
		return nil, devicelink.ErrClosed
	}
	return l.rpc, nil
}
