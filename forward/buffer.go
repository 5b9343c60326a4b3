// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import (
	"fmt"
	"sync"
)

// Buffer accumulates device bytes between the read and flush stages.
// Appends and drains are O(1) amortized; Drain swaps the backing slice
// out so that the caller owns the returned bytes.
//
// The limit is advisory: Append never refuses data. The read stage
// consults Free before reading and asks the device for no more than
// fits.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	limit int
}

// NewBuffer creates a Buffer whose Free space is measured against
// limit. The limit must be positive.
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		panic(fmt.Sprintf("forward: buffer limit must be positive, got %d", limit))
	}
	return &Buffer{limit: limit}
}

// Append adds data to the end of the buffer.
func (b *Buffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, data...)
}

// Drain removes and returns everything buffered, or nil when empty.
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	drained := b.data
	b.data = nil
	return drained
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Free returns how many bytes can be appended before reaching the
// limit. Never negative.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return max(b.limit-len(b.data), 0)
}

// Clear discards everything buffered.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}
