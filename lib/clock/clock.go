// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package used by the bridge.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. C has capacity 1; a slow
// consumer loses ticks rather than queueing them, as with time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }
