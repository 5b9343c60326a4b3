// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that the polling
// loops in the bridge (read stage, flush stage, control-block search,
// link monitor) can be tested without wall-clock sleeps.
//
// Production code holds a [Clock] and uses [Real]. Tests use [Fake],
// which only moves when [FakeClock.Advance] is called:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go monitor.Run(ctx)
//	c.WaitForTimers(1)        // the loop has registered its ticker
//	c.Advance(time.Second)    // deliver exactly one tick
//
// WaitForTimers closes the race between a goroutine registering a
// sleep or ticker and the test advancing time past it.
package clock
