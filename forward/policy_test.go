// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import (
	"testing"
	"time"
)

func TestFlushPolicyDue(t *testing.T) {
	policy := FlushPolicy{Threshold: 8192, Interval: 5 * time.Millisecond}
	tests := []struct {
		name      string
		pending   int
		sinceLast time.Duration
		want      bool
	}{
		{name: "empty never flushes", pending: 0, sinceLast: time.Hour, want: false},
		{name: "small and recent waits", pending: 10, sinceLast: 4 * time.Millisecond, want: false},
		{name: "small at interval flushes", pending: 10, sinceLast: 5 * time.Millisecond, want: true},
		{name: "threshold flushes immediately", pending: 8192, sinceLast: 0, want: true},
		{name: "above threshold flushes immediately", pending: 20000, sinceLast: 0, want: true},
		{name: "just below threshold waits", pending: 8191, sinceLast: time.Millisecond, want: false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := policy.Due(test.pending, test.sinceLast); got != test.want {
				t.Fatalf("Due(%d, %v) = %v, want %v", test.pending, test.sinceLast, got, test.want)
			}
		})
	}
}
