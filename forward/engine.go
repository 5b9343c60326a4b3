// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/rtt2udp/lib/clock"
	"github.com/bureau-foundation/rtt2udp/lib/netutil"
)

// ErrTooManyReadFailures is reported through OnFatal when the device
// read stage gives up.
var ErrTooManyReadFailures = errors.New("forward: too many consecutive device read failures")

// Device is the part of a device link the engine drives. Both methods
// must return promptly; neither waits for data.
type Device interface {
	ReadAvailable(index int, maxBytes int) ([]byte, error)
	Write(index int, data []byte) error
}

// Transport is the UDP side. Send is fire-and-forget. Receive waits at
// most timeout and returns (nil, nil) when nothing arrived; after the
// transport is closed it returns an error matching net.ErrClosed.
type Transport interface {
	Send(payload []byte) error
	Receive(timeout time.Duration) ([]byte, error)
}

// Direction identifies which way a payload travelled.
type Direction uint8

const (
	DeviceToUDP Direction = iota + 1
	UDPToDevice
)

func (d Direction) String() string {
	switch d {
	case DeviceToUDP:
		return "device-to-udp"
	case UDPToDevice:
		return "udp-to-device"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// Tap observes forwarded payloads. Record is called synchronously from
// the pipelines and must not block or retain payload.
type Tap interface {
	Record(direction Direction, payload []byte)
}

// Engine forwards between a Device and a Transport. Configure the
// exported fields before Start; they are not read concurrently.
type Engine struct {
	// Clock drives sleeps and flush timing. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// Tap, if set, sees every flushed payload and every inbound
	// datagram.
	Tap Tap

	// OnFatal, if set, is called once from its own goroutine when a
	// pipeline ends with an unrecoverable error. The engine keeps its
	// other pipelines running; the callback is expected to Stop it.
	OnFatal func(error)

	device    Device
	transport Transport
	config    Config
	policy    FlushPolicy
	stats     Stats

	// current is the most recently started run.
	current atomic.Pointer[run]

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	pipelines []*pipeline
}

// run is the state of one Start/Stop cycle. A pipeline abandoned by a
// bounded Stop keeps its own run and never touches a later one.
type run struct {
	buffer *Buffer

	// lastSend is owned by the flush stage.
	lastSend time.Time
}

// pipeline is one running loop and the channel closed when it returns.
type pipeline struct {
	name string
	done chan struct{}
}

// New creates a stopped Engine. Zero config fields take defaults.
func New(device Device, transport Transport, config Config) *Engine {
	config = config.withDefaults()
	e := &Engine{
		device:    device,
		transport: transport,
		config:    config,
		policy:    FlushPolicy{Threshold: config.FlushThreshold, Interval: config.FlushInterval},
	}
	e.current.Store(e.newRun())
	return e
}

func (e *Engine) newRun() *run {
	return &run{buffer: NewBuffer(e.config.BufferLimit), lastSend: e.clock().Now()}
}

func (e *Engine) clock() clock.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return clock.Real()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// Start launches the pipelines. It returns false, and changes nothing,
// when the engine is already running.
func (e *Engine) Start(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.logger().Warn("forwarding engine already running")
		return false
	}

	ctx, e.cancel = context.WithCancel(ctx)
	current := e.newRun()
	e.current.Store(current)
	e.running = true

	read := e.launch(ctx, "device-read", func(ctx context.Context) error {
		return e.readLoop(ctx, current)
	})
	flush := e.launch(ctx, "flush", func(ctx context.Context) error {
		return e.flushLoop(ctx, current, read.done)
	})
	receive := e.launch(ctx, "udp-to-device", e.receiveLoop)
	e.pipelines = []*pipeline{read, flush, receive}

	e.logger().Info("forwarding started",
		"buffer_index", e.config.BufferIndex,
		"flush_threshold", e.config.FlushThreshold,
		"flush_interval", e.config.FlushInterval,
	)
	return true
}

func (e *Engine) launch(ctx context.Context, name string, loop func(context.Context) error) *pipeline {
	running := &pipeline{name: name, done: make(chan struct{})}
	go func() {
		defer close(running.done)
		if err := loop(ctx); err != nil {
			e.logger().Error("forwarding pipeline failed", "pipeline", name, "error", err)
			if e.OnFatal != nil {
				go e.OnFatal(err)
			}
		}
	}()
	return running
}

// Stop cancels the pipelines and waits up to StopTimeout for each. A
// pipeline that does not finish in time is logged and abandoned; it
// keeps the buffer of its own run, which is cleared here, and a later
// Start begins with a fresh one. Stop on a stopped engine does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}

	e.cancel()
	for _, running := range e.pipelines {
		select {
		case <-running.done:
		case <-e.clock().After(e.config.StopTimeout):
			e.logger().Warn("forwarding pipeline did not stop in time",
				"pipeline", running.name,
				"timeout", e.config.StopTimeout,
			)
		}
	}
	e.current.Load().buffer.Clear()
	e.pipelines = nil
	e.running = false

	stats := e.Stats()
	e.logger().Info("forwarding stopped",
		"bytes_read", stats.BytesRead,
		"bytes_sent", stats.BytesSent,
		"datagrams_in", stats.DatagramsIn,
		"read_failures", stats.ReadFailures,
		"write_failures", stats.WriteFailures,
		"send_failures", stats.SendFailures,
	)
}

// Running reports whether the pipelines have been started and not yet
// stopped.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stats returns the traffic counters.
func (e *Engine) Stats() StatsSnapshot {
	snapshot := e.stats.Snapshot()
	snapshot.Buffered = e.current.Load().buffer.Len()
	return snapshot
}

// sleep waits d or until ctx is done, reporting false in the latter
// case.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.clock().After(d):
		return true
	}
}

// readLoop is the device-read pipeline.
func (e *Engine) readLoop(ctx context.Context, current *run) error {
	consecutiveFailures := 0
	for ctx.Err() == nil {
		free := current.buffer.Free()
		if free == 0 {
			if !e.sleep(ctx, e.config.PollInterval) {
				return nil
			}
			continue
		}

		data, err := e.device.ReadAvailable(e.config.BufferIndex, min(free, e.config.MaxReadSize))
		if err != nil {
			consecutiveFailures++
			e.stats.readFailures.Add(1)
			e.logger().Warn("device read failed",
				"buffer_index", e.config.BufferIndex,
				"consecutive_failures", consecutiveFailures,
				"error", err,
			)
			if consecutiveFailures >= e.config.MaxConsecutiveReadFailures {
				return fmt.Errorf("%w (%d): %w", ErrTooManyReadFailures, consecutiveFailures, err)
			}
			if !e.sleep(ctx, e.config.PollInterval) {
				return nil
			}
			continue
		}
		consecutiveFailures = 0

		// A read that outlived Stop belongs to a finished run.
		if ctx.Err() != nil {
			return nil
		}
		if len(data) > 0 {
			current.buffer.Append(data)
			e.stats.bytesRead.Add(uint64(len(data)))
			continue
		}
		if !e.sleep(ctx, e.config.PollInterval) {
			return nil
		}
	}
	return nil
}

// flushLoop is the flush pipeline. On cancellation it waits for the
// read stage to finish and sends whatever it left behind.
func (e *Engine) flushLoop(ctx context.Context, current *run, readDone <-chan struct{}) error {
	for e.sleep(ctx, e.config.FlushCheckInterval) {
		e.flushOnce(current, e.clock().Now())
	}
	<-readDone
	if remaining := current.buffer.Drain(); remaining != nil {
		e.send(remaining)
	}
	return nil
}

// flushOnce applies the flush policy at now. It reports whether a
// payload was sent.
func (e *Engine) flushOnce(current *run, now time.Time) bool {
	if !e.policy.Due(current.buffer.Len(), now.Sub(current.lastSend)) {
		return false
	}
	payload := current.buffer.Drain()
	if payload == nil {
		return false
	}
	e.send(payload)
	current.lastSend = now
	return true
}

func (e *Engine) send(payload []byte) {
	e.stats.flushes.Add(1)
	if err := e.transport.Send(payload); err != nil {
		e.stats.sendFailures.Add(1)
		if netutil.IsConnectionRefused(err) {
			e.logger().Debug("udp destination not listening", "bytes", len(payload))
		} else {
			e.logger().Warn("udp send failed", "bytes", len(payload), "error", err)
		}
	} else {
		e.stats.bytesSent.Add(uint64(len(payload)))
	}
	if e.Tap != nil {
		e.Tap.Record(DeviceToUDP, payload)
	}
}

// receiveLoop is the udp-to-device pipeline.
func (e *Engine) receiveLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		payload, err := e.transport.Receive(e.config.ReceiveTimeout)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.logger().Warn("udp receive failed", "error", err)
			if !e.sleep(ctx, e.config.ReceiveIdleSleep) {
				return nil
			}
			continue
		}
		if len(payload) == 0 {
			if !e.sleep(ctx, e.config.ReceiveIdleSleep) {
				return nil
			}
			continue
		}

		e.stats.datagramsIn.Add(1)
		if e.Tap != nil {
			e.Tap.Record(UDPToDevice, payload)
		}
		if err := e.device.Write(e.config.BufferIndex, payload); err != nil {
			e.stats.writeFailures.Add(1)
			e.logger().Warn("device write failed",
				"buffer_index", e.config.BufferIndex,
				"bytes", len(payload),
				"error", err,
			)
			continue
		}
		e.stats.bytesWritten.Add(uint64(len(payload)))
	}
	return nil
}
