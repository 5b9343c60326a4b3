// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import "time"

// FlushPolicy decides when pending bytes are sent. Pending data is
// sent as soon as it reaches Threshold bytes, and no later than
// Interval after the previous send.
type FlushPolicy struct {
	Threshold int
	Interval  time.Duration
}

// Due reports whether pending bytes should be flushed now, given the
// time since the previous send.
func (p FlushPolicy) Due(pending int, sinceLastSend time.Duration) bool {
	if pending <= 0 {
		return false
	}
	return pending >= p.Threshold || sinceLastSend >= p.Interval
}
