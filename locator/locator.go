// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/rtt2udp/devicelink"
	"github.com/bureau-foundation/rtt2udp/lib/clock"
)

var (
	// ErrControlBlockNotFound is returned when every attempt to start
	// the channel failed or the search window elapsed.
	ErrControlBlockNotFound = errors.New("locator: control block not found")

	// ErrAddressExtraction is returned when the linker map has no
	// usable address for the control block symbol.
	ErrAddressExtraction = errors.New("locator: address extraction failed")
)

const (
	DefaultAttempts      = 5
	DefaultRetryDelay    = time.Second
	DefaultSearchTimeout = 5 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
)

// Locator acquires the control block on an open, connected link. The
// zero value uses the defaults above, the real clock, and
// slog.Default().
type Locator struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// Attempts bounds direct starts, including the first.
	Attempts int
	// RetryDelay separates direct attempts.
	RetryDelay time.Duration
	// SearchTimeout bounds how long a search is polled.
	SearchTimeout time.Duration
	// PollInterval separates search polls.
	PollInterval time.Duration
}

func (l *Locator) clock() clock.Clock {
	if l.Clock != nil {
		return l.Clock
	}
	return clock.Real()
}

func (l *Locator) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Locator) attempts() int {
	if l.Attempts > 0 {
		return l.Attempts
	}
	return DefaultAttempts
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

// Derive fills in the address of a derived-mode spec from its map
// file. It touches no device, so callers run it before opening the
// link. Without Rederive a derived cached resolution is reused instead
// of reading the file again. Specs in other modes are returned as is.
func (l *Locator) Derive(spec Spec, cached Resolution) (Spec, error) {
	if spec.Mode != ModeDerived || spec.Address != 0 {
		return spec, nil
	}
	if !spec.Rederive && cached.reusableFor(ModeDerived) {
		spec.Address = cached.Address
		l.logger().Info("reusing derived control block address", "address", spec.Address.String())
		return spec, nil
	}

	address, err := ExtractAddressFile(spec.MapFile, spec.symbol())
	if err != nil {
		return spec, err
	}
	spec.Address = address
	l.logger().Info("control block address derived from map file",
		"map_file", spec.MapFile,
		"symbol", spec.symbol(),
		"address", address.String(),
	)
	return spec, nil
}

// Locate starts the transfer channel according to spec and returns
// where the control block was found. cached is the resolution from a
// previous session, or the zero Resolution.
func (l *Locator) Locate(ctx context.Context, link devicelink.Link, spec Spec, cached Resolution) (Resolution, error) {
	if spec.Mode == ModeDerived {
		derived, err := l.Derive(spec, cached)
		if err != nil {
			return Resolution{}, err
		}
		spec = derived
	}
	if err := spec.Validate(); err != nil {
		return Resolution{}, err
	}

	switch spec.Mode {
	case ModeDirect, ModeDerived:
		if err := l.startDirect(ctx, link, spec.Address); err != nil {
			return Resolution{}, err
		}
		return Resolution{Mode: spec.Mode, Address: spec.Address}, nil
	default:
		address, err := l.search(ctx, link, spec.Range, cached)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Mode: ModeSearch, Address: address}, nil
	}
}

// startDirect starts the channel at address, retrying with a fixed
// backoff.
func (l *Locator) startDirect(ctx context.Context, link devicelink.Link, address devicelink.Address) error {
	attempts := l.attempts()
	retryDelay := orDefault(l.RetryDelay, DefaultRetryDelay)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = link.StartChannel(ctx, devicelink.AtAddress(address))
		if lastErr == nil {
			l.logger().Info("transfer channel started",
				"address", address.String(),
				"attempt", attempt,
			)
			return nil
		}
		l.logger().Warn("starting transfer channel failed",
			"address", address.String(),
			"attempt", attempt,
			"attempts", attempts,
			"error", lastErr,
		)
		if attempt < attempts {
			if err := l.sleep(ctx, retryDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w at %s after %d attempts: %w", ErrControlBlockNotFound, address, attempts, lastErr)
}

// search scans searchRange, first trying a cached search result with a
// single direct start.
func (l *Locator) search(ctx context.Context, link devicelink.Link, searchRange devicelink.SearchRange, cached Resolution) (devicelink.Address, error) {
	if cached.reusableFor(ModeSearch) {
		err := link.StartChannel(ctx, devicelink.AtAddress(cached.Address))
		if err == nil {
			l.logger().Info("transfer channel started at cached search result", "address", cached.Address.String())
			return cached.Address, nil
		}
		l.logger().Info("cached search result no longer valid, searching",
			"address", cached.Address.String(),
			"error", err,
		)
	}

	if err := link.StartChannel(ctx, devicelink.InRange(searchRange)); err != nil {
		return 0, fmt.Errorf("%w: starting search in %s: %w", ErrControlBlockNotFound, searchRange, err)
	}
	l.logger().Info("searching for control block", "range", searchRange.String())

	timeout := orDefault(l.SearchTimeout, DefaultSearchTimeout)
	pollInterval := orDefault(l.PollInterval, DefaultPollInterval)
	started := l.clock().Now()
	for polls := 1; ; polls++ {
		address, err := link.ControlBlockAddress(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: polling search: %w", ErrControlBlockNotFound, err)
		}
		if address != 0 {
			l.logger().Info("control block found",
				"address", address.String(),
				"polls", polls,
			)
			return address, nil
		}
		if l.clock().Now().Sub(started) >= timeout {
			return 0, fmt.Errorf("%w: nothing in %s within %s", ErrControlBlockNotFound, searchRange, timeout)
		}
		if err := l.sleep(ctx, pollInterval); err != nil {
			return 0, err
		}
	}
}

func (l *Locator) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock().After(d):
		return nil
	}
}
