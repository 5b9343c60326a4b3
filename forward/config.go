// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import (
	"fmt"
	"time"
)

// Config tunes an Engine. Zero fields take the values from
// DefaultConfig.
type Config struct {
	// BufferIndex selects the up and down buffers on the device.
	BufferIndex int

	// PollInterval is the read stage's sleep after an empty read and
	// while the buffer is full.
	PollInterval time.Duration

	// FlushThreshold is the pending byte count that triggers an
	// immediate flush.
	FlushThreshold int
	// FlushInterval is the longest pending bytes wait after the
	// previous send.
	FlushInterval time.Duration
	// FlushCheckInterval is how often the flush stage evaluates the
	// policy.
	FlushCheckInterval time.Duration

	// MaxReadSize caps a single device read.
	MaxReadSize int
	// BufferLimit bounds the bytes held between read and flush.
	BufferLimit int

	// ReceiveTimeout bounds each wait for an inbound datagram.
	ReceiveTimeout time.Duration
	// ReceiveIdleSleep follows a receive that returned nothing.
	ReceiveIdleSleep time.Duration

	// StopTimeout bounds the wait for each pipeline in Stop.
	StopTimeout time.Duration

	// MaxConsecutiveReadFailures ends the read stage, and reports a
	// fatal error, after this many device reads fail in a row.
	MaxConsecutiveReadFailures int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BufferIndex:                0,
		PollInterval:               time.Millisecond,
		FlushThreshold:             8192,
		FlushInterval:              5 * time.Millisecond,
		FlushCheckInterval:         time.Millisecond,
		MaxReadSize:                128 * 1024,
		BufferLimit:                256 * 1024,
		ReceiveTimeout:             100 * time.Millisecond,
		ReceiveIdleSleep:           time.Millisecond,
		StopTimeout:                5 * time.Second,
		MaxConsecutiveReadFailures: 50,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = defaults.FlushThreshold
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaults.FlushInterval
	}
	if c.FlushCheckInterval <= 0 {
		c.FlushCheckInterval = defaults.FlushCheckInterval
	}
	if c.MaxReadSize <= 0 {
		c.MaxReadSize = defaults.MaxReadSize
	}
	if c.BufferLimit <= 0 {
		c.BufferLimit = defaults.BufferLimit
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = defaults.ReceiveTimeout
	}
	if c.ReceiveIdleSleep <= 0 {
		c.ReceiveIdleSleep = defaults.ReceiveIdleSleep
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaults.StopTimeout
	}
	if c.MaxConsecutiveReadFailures <= 0 {
		c.MaxConsecutiveReadFailures = defaults.MaxConsecutiveReadFailures
	}
	return c
}

// Validate rejects settings that cannot be defaulted away.
func (c Config) Validate() error {
	if c.BufferIndex < 0 {
		return fmt.Errorf("forward: buffer index must not be negative, got %d", c.BufferIndex)
	}
	if c.FlushThreshold < 0 || c.MaxReadSize < 0 || c.BufferLimit < 0 {
		return fmt.Errorf("forward: sizes must not be negative")
	}
	if c.BufferLimit > 0 && c.FlushThreshold > c.BufferLimit {
		return fmt.Errorf("forward: flush threshold %d exceeds buffer limit %d", c.FlushThreshold, c.BufferLimit)
	}
	return nil
}
