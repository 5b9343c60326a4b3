// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/rtt2udp/lib/clock"
	"github.com/bureau-foundation/rtt2udp/lib/testutil"
)

type fakeProbe struct {
	alive atomic.Bool
	polls atomic.Int64
}

func newFakeProbe() *fakeProbe {
	probe := &fakeProbe{}
	probe.alive.Store(true)
	return probe
}

func (p *fakeProbe) IsAlive() bool {
	p.polls.Add(1)
	return p.alive.Load()
}

func newTestMonitor(probe Probe, onLinkLost func()) (*Monitor, *clock.FakeClock) {
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	monitor := New(probe, onLinkLost)
	monitor.Clock = fakeClock
	monitor.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return monitor, fakeClock
}

// tick advances one interval and waits for the poll it triggers.
func tick(t *testing.T, fakeClock *clock.FakeClock, probe *fakeProbe) {
	t.Helper()
	before := probe.polls.Load()
	fakeClock.Advance(DefaultInterval)
	testutil.Eventually(t, 2*time.Second, func() bool {
		return probe.polls.Load() > before
	}, "poll did not happen")
}

func TestLinkLossFiresCallbackOnce(t *testing.T) {
	probe := newFakeProbe()
	var mu sync.Mutex
	calls := 0
	lost := make(chan struct{}, 4)
	monitor, fakeClock := newTestMonitor(probe, func() {
		mu.Lock()
		calls++
		mu.Unlock()
		lost <- struct{}{}
	})

	if !monitor.Start(context.Background()) {
		t.Fatal("Start returned false")
	}
	if monitor.State() != Monitoring {
		t.Fatalf("state = %s, want monitoring", monitor.State())
	}
	tick(t, fakeClock, probe)
	tick(t, fakeClock, probe)

	probe.alive.Store(false)
	fakeClock.Advance(DefaultInterval)
	testutil.RequireReceive(t, lost, 2*time.Second, "link-lost callback not called")
	testutil.RequireClosed(t, monitor.Done(), 2*time.Second, "monitor did not exit after link loss")

	// Further time passing does not poll or fire again.
	fakeClock.Advance(10 * DefaultInterval)
	monitor.Stop()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("callback called %d times, want 1", calls)
	}
	if monitor.State() != LinkLost {
		t.Fatalf("state = %s, want link-lost", monitor.State())
	}
}

func TestStopWhileHealthy(t *testing.T) {
	probe := newFakeProbe()
	called := make(chan struct{}, 1)
	monitor, fakeClock := newTestMonitor(probe, func() { called <- struct{}{} })
	monitor.Start(context.Background())
	tick(t, fakeClock, probe)

	monitor.Stop()
	testutil.RequireClosed(t, monitor.Done(), time.Second, "monitor did not exit")
	if monitor.State() != Stopped {
		t.Fatalf("state = %s, want stopped", monitor.State())
	}

	probe.alive.Store(false)
	fakeClock.Advance(DefaultInterval)
	select {
	case <-called:
		t.Fatal("callback fired after Stop")
	default:
	}
	monitor.Stop()
}

func TestStartIsSingleUse(t *testing.T) {
	monitor, _ := newTestMonitor(newFakeProbe(), nil)
	if !monitor.Start(context.Background()) {
		t.Fatal("first Start returned false")
	}
	if monitor.Start(context.Background()) {
		t.Fatal("second Start returned true")
	}
	monitor.Stop()
	if monitor.Start(context.Background()) {
		t.Fatal("Start after Stop returned true")
	}
}

func TestStopBeforeStart(t *testing.T) {
	monitor, _ := newTestMonitor(newFakeProbe(), nil)
	monitor.Stop()
	testutil.RequireClosed(t, monitor.Done(), time.Second, "Done not closed")
	if monitor.State() != Stopped {
		t.Fatalf("state = %s, want stopped", monitor.State())
	}
	monitor.Stop()
}

func TestContextCancelEndsPolling(t *testing.T) {
	monitor, _ := newTestMonitor(newFakeProbe(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	cancel()
	testutil.RequireClosed(t, monitor.Done(), time.Second, "monitor ignored cancellation")
	monitor.Stop()
}
