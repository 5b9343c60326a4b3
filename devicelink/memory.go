// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicelink

import (
	"context"
	"fmt"
	"sync"
)

var _ Link = (*Memory)(nil)

// MemoryConfig describes the simulated target behind a Memory link.
type MemoryConfig struct {
	// ControlBlock is where the simulated control block lives. Zero
	// means the target has none and every start fails.
	ControlBlock Address

	// StartFailures is the number of StartChannel calls that fail
	// before one succeeds, modeling a target that is still booting.
	StartFailures int

	// SearchPolls is the number of ControlBlockAddress calls a search
	// takes before it reports the control block. Values below 1 mean
	// the first poll finds it.
	SearchPolls int

	// Loopback echoes every Write back onto the up buffer with the
	// same index.
	Loopback bool
}

// Memory is an in-process Link backed by byte slices. Tests inject
// up-buffer data with Inject and inspect down-buffer writes with
// Written; Disconnect simulates a pulled probe cable.
type Memory struct {
	config MemoryConfig

	mu            sync.Mutex
	opened        bool
	closed        bool
	alive         bool
	started       bool
	searching     *SearchRange
	found         Address
	startCalls    int
	pollCalls     int
	serial        string
	target        string
	up            map[int][]byte
	down          map[int][]byte
	readError     error
	writeFailures int
}

// NewMemory returns a Memory link for the described target.
func NewMemory(config MemoryConfig) *Memory {
	return &Memory{
		config: config,
		up:     make(map[int][]byte),
		down:   make(map[int][]byte),
	}
}

func (m *Memory) Open(ctx context.Context, serial string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: %w", ErrLinkOpenFailed, ErrClosed)
	}
	m.opened = true
	m.alive = true
	m.serial = serial
	return nil
}

func (m *Memory) Connect(ctx context.Context, target string, debugInterface Interface, speed Speed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened || !m.alive {
		return fmt.Errorf("%w: probe not open", ErrTargetConnectFailed)
	}
	if target == "" {
		return fmt.Errorf("%w: no target device selected", ErrTargetConnectFailed)
	}
	m.target = target
	return nil
}

func (m *Memory) StartChannel(ctx context.Context, start ChannelStart) error {
	if err := start.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++
	if !m.alive {
		return ErrClosed
	}
	if m.startCalls <= m.config.StartFailures {
		return fmt.Errorf("devicelink: control block has not yet been found (attempt %d)", m.startCalls)
	}

	if start.Search != nil {
		window := *start.Search
		m.searching = &window
		m.started = true
		m.pollCalls = 0
		return nil
	}
	if m.config.ControlBlock == 0 || start.Address != m.config.ControlBlock {
		return fmt.Errorf("devicelink: no control block at %s", start.Address)
	}
	m.found = start.Address
	m.started = true
	return nil
}

func (m *Memory) ControlBlockAddress(ctx context.Context) (Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return 0, ErrChannelNotStarted
	}
	if m.found != 0 || m.searching == nil {
		return m.found, nil
	}

	m.pollCalls++
	block := m.config.ControlBlock
	inWindow := block != 0 && block >= m.searching.Start && uint64(block) < m.searching.End()
	if inWindow && m.pollCalls >= m.config.SearchPolls {
		m.found = block
	}
	return m.found, nil
}

func (m *Memory) ReadAvailable(index int, maxBytes int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readError != nil {
		return nil, m.readError
	}
	if !m.started || m.found == 0 {
		return nil, ErrChannelNotStarted
	}
	pending := m.up[index]
	if len(pending) == 0 || maxBytes <= 0 {
		return nil, nil
	}
	count := min(len(pending), maxBytes)
	data := make([]byte, count)
	copy(data, pending)
	m.up[index] = pending[count:]
	return data, nil
}

func (m *Memory) Write(index int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeFailures > 0 {
		m.writeFailures--
		return fmt.Errorf("%w: simulated failure", ErrWriteFailed)
	}
	if !m.started || m.found == 0 {
		return ErrChannelNotStarted
	}
	m.down[index] = append(m.down[index], data...)
	if m.config.Loopback {
		m.up[index] = append(m.up[index], data...)
	}
	return nil
}

func (m *Memory) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

func (m *Memory) StopChannel(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	m.searching = nil
	m.found = 0
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.opened = false
	m.alive = false
	return nil
}

// Inject appends data to the up buffer at index, as if the target
// firmware had written it.
func (m *Memory) Inject(index int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.up[index] = append(m.up[index], data...)
}

// Written returns a copy of everything written to the down buffer at
// index.
func (m *Memory) Written(index int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.down[index]...)
}

// Pending returns the number of injected bytes not yet read.
func (m *Memory) Pending(index int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.up[index])
}

// Disconnect makes IsAlive report false from now on.
func (m *Memory) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive = false
}

// SetReadError makes every ReadAvailable fail with err until cleared
// with nil.
func (m *Memory) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

// FailNextWrites makes the next n Write calls fail.
func (m *Memory) FailNextWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeFailures = n
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ChannelStarted reports whether the transfer channel is running.
func (m *Memory) ChannelStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// StartCalls returns how many times StartChannel was called.
func (m *Memory) StartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalls
}

// Serial returns the serial passed to Open.
func (m *Memory) Serial() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serial
}
