// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor watches a device link and reports when it goes away.
//
// A [Monitor] polls the link's liveness on a fixed interval. The first
// poll that finds the link dead moves the monitor to [LinkLost], calls
// the link-lost callback exactly once, and ends the monitor. The
// monitor never tears anything down itself; remediation is the
// callback's job.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/rtt2udp/lib/clock"
)

const (
	// DefaultInterval is the time between liveness polls.
	DefaultInterval = time.Second
	// DefaultStopTimeout bounds the wait for the polling goroutine in
	// Stop.
	DefaultStopTimeout = 2 * time.Second
)

// State is the monitor's lifecycle position.
type State uint8

const (
	Idle State = iota
	Monitoring
	LinkLost
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Monitoring:
		return "monitoring"
	case LinkLost:
		return "link-lost"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Probe reports whether the link still reaches the target.
type Probe interface {
	IsAlive() bool
}

// Monitor polls a Probe. Configure the exported fields before Start.
type Monitor struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// Interval is the time between polls. Defaults to DefaultInterval.
	Interval time.Duration
	// StopTimeout bounds Stop. Defaults to DefaultStopTimeout.
	StopTimeout time.Duration

	probe      Probe
	onLinkLost func()

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an idle Monitor. onLinkLost runs on the monitor's
// goroutine; it must not call Stop synchronously, or Stop waits out
// its timeout.
func New(probe Probe, onLinkLost func()) *Monitor {
	return &Monitor{
		probe:      probe,
		onLinkLost: onLinkLost,
		done:       make(chan struct{}),
	}
}

func (m *Monitor) clock() clock.Clock {
	if m.Clock != nil {
		return m.Clock
	}
	return clock.Real()
}

func (m *Monitor) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Start begins polling. It returns false unless the monitor is Idle;
// a monitor is single-use.
func (m *Monitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return false
	}

	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.state = Monitoring
	// Registered before the goroutine runs, so a fake clock sees the
	// ticker as soon as Start returns.
	ticker := m.clock().NewTicker(interval)

	go func() {
		defer close(m.done)
		defer ticker.Stop()
		m.poll(ctx, ticker)
	}()
	m.logger().Debug("connection monitor started", "interval", interval)
	return true
}

func (m *Monitor) poll(ctx context.Context, ticker *clock.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if m.probe.IsAlive() {
			continue
		}
		if !m.transition(LinkLost) {
			return
		}
		m.logger().Warn("device link lost")
		if m.onLinkLost != nil {
			m.onLinkLost()
		}
		return
	}
}

// transition moves a Monitoring monitor to next. It reports false when
// the monitor had already left Monitoring.
func (m *Monitor) transition(next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Monitoring {
		return false
	}
	m.state = next
	return true
}

// Stop ends polling and waits up to StopTimeout for the goroutine. The
// state becomes Stopped unless the link was already lost. Safe to call
// more than once and on a monitor that never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	switch m.state {
	case Idle:
		m.state = Stopped
		close(m.done)
		m.mu.Unlock()
		return
	case Monitoring:
		m.state = Stopped
	}
	cancel := m.cancel
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	timeout := m.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	select {
	case <-m.done:
	case <-m.clock().After(timeout):
		m.logger().Warn("connection monitor did not stop in time", "timeout", timeout)
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed when the polling goroutine has exited, or by Stop on
// a monitor that never started.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}
