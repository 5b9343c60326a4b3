// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time stands still until Advance
// is called; sleeps, After channels, and tickers fire only when the
// clock passes their deadline. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	pending []*pendingTimer
}

// pendingTimer is one registered After, Sleep, or Ticker deadline.
type pendingTimer struct {
	deadline time.Time
	channel  chan time.Time
	// period is non-zero for tickers, which are rescheduled after
	// every fire instead of being removed.
	period  time.Duration
	stopped bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot deadline d from now.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.addLocked(&pendingTimer{deadline: c.now.Add(d), channel: channel})
	return channel
}

// NewTicker registers a periodic deadline.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &pendingTimer{
		deadline: c.now.Add(d),
		channel:  make(chan time.Time, 1),
		period:   d,
	}
	c.addLocked(timer)
	return &Ticker{
		C: timer.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			timer.stopped = true
			c.changed.Broadcast()
		},
	}
}

// Sleep blocks until the clock is advanced d past the current time.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every deadline that
// falls inside the new time, earliest first. Sends never block: a
// ticker whose channel is full loses the tick.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now

	var due []*pendingTimer
	kept := c.pending[:0]
	for _, timer := range c.pending {
		if timer.stopped {
			continue
		}
		for !timer.deadline.After(target) {
			due = append(due, &pendingTimer{deadline: timer.deadline, channel: timer.channel})
			if timer.period == 0 {
				timer.stopped = true
				break
			}
			timer.deadline = timer.deadline.Add(timer.period)
		}
		if !timer.stopped {
			kept = append(kept, timer)
		}
	}
	c.pending = kept
	c.changed.Broadcast()
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, fired := range due {
		select {
		case fired.channel <- target:
		default:
		}
	}
}

// WaitForTimers blocks until at least n deadlines are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of registered, unfired deadlines.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) addLocked(timer *pendingTimer) {
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
