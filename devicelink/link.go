// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelink

import (
	"context"
	"errors"
)

// Errors reported across the Link boundary. Implementations wrap
// their underlying cause with these so callers can classify failures
// with errors.Is.
var (
	ErrLinkOpenFailed      = errors.New("devicelink: opening probe failed")
	ErrTargetConnectFailed = errors.New("devicelink: connecting to target failed")
	ErrReadFailed          = errors.New("devicelink: channel read failed")
	ErrWriteFailed         = errors.New("devicelink: channel write failed")
	ErrChannelNotStarted   = errors.New("devicelink: transfer channel not started")
	ErrClosed              = errors.New("devicelink: link closed")
)

// ChannelStart says where the transfer channel's control block is:
// exactly one of Address (non-zero) or Search (non-nil) is set.
type ChannelStart struct {
	Address Address
	Search  *SearchRange
}

// AtAddress starts the channel at a known control-block address.
func AtAddress(address Address) ChannelStart {
	return ChannelStart{Address: address}
}

// InRange starts the channel by scanning a memory window.
func InRange(searchRange SearchRange) ChannelStart {
	return ChannelStart{Search: &searchRange}
}

// Validate checks that exactly one start mode is set.
func (s ChannelStart) Validate() error {
	switch {
	case s.Search != nil && s.Address != 0:
		return errors.New("devicelink: channel start has both an address and a search range")
	case s.Search != nil:
		return s.Search.Validate()
	case s.Address == 0:
		return errors.New("devicelink: channel start has neither an address nor a search range")
	}
	return nil
}

// Link is a debug-probe session with access to the transfer channel.
//
// Setup methods (Open, Connect, StartChannel, ControlBlockAddress,
// StopChannel) may block on probe round trips and honor ctx. The data
// methods (ReadAvailable, Write, IsAlive) are called from polling
// loops and must return within a single probe transaction; they do not
// wait for data to arrive.
//
// ReadAvailable and Write may be called concurrently with each other
// and with IsAlive. Setup methods are called from one goroutine.
type Link interface {
	// Open attaches to the probe with the given serial number. An
	// empty serial selects the only or default probe.
	Open(ctx context.Context, serial string) error

	// Connect selects the target device, debug interface, and clock.
	Connect(ctx context.Context, target string, debugInterface Interface, speed Speed) error

	// StartChannel starts the transfer channel at a control-block
	// address, or begins a search over a memory range.
	StartChannel(ctx context.Context, start ChannelStart) error

	// ControlBlockAddress returns the control-block address once the
	// channel has located it, or 0 while a search is still pending.
	ControlBlockAddress(ctx context.Context) (Address, error)

	// ReadAvailable returns up to maxBytes currently buffered on the
	// up (target-to-host) buffer at index. An empty slice with a nil
	// error means no data is waiting.
	ReadAvailable(index int, maxBytes int) ([]byte, error)

	// Write queues data on the down (host-to-target) buffer at index.
	Write(index int, data []byte) error

	// IsAlive reports whether the probe and target are still reachable.
	IsAlive() bool

	// StopChannel stops the transfer channel.
	StopChannel(ctx context.Context) error

	// Close releases the probe. The Link must not be used afterwards.
	Close() error
}
