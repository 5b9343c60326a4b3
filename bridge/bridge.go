// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/rtt2udp/capture"
	"github.com/bureau-foundation/rtt2udp/devicelink"
	"github.com/bureau-foundation/rtt2udp/forward"
	"github.com/bureau-foundation/rtt2udp/lib/clock"
	"github.com/bureau-foundation/rtt2udp/locator"
	"github.com/bureau-foundation/rtt2udp/monitor"
	"github.com/bureau-foundation/rtt2udp/transport"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is active
	// or being set up.
	ErrAlreadyRunning = errors.New("bridge: session already running")

	// ErrLinkLost is the cause passed to OnLinkLost when the monitor
	// finds the device link dead.
	ErrLinkLost = errors.New("bridge: device link lost")
)

// teardownTimeout bounds the device round trips made while stopping.
const teardownTimeout = 5 * time.Second

// Options describes a session. See config.Config.Options for how the
// configuration file maps onto these fields.
type Options struct {
	ProbeSerial string
	Target      string
	Interface   devicelink.Interface
	Speed       devicelink.Speed

	// Acquisition says how the control block is found.
	Acquisition locator.Spec

	Forward forward.Config

	// RemoteAddress is the UDP destination, "host:port".
	RemoteAddress string
	// LocalAddress and LocalPort are the UDP bind address. An empty
	// address binds all interfaces; port 0 is ephemeral.
	LocalAddress string
	LocalPort    int

	// MonitorInterval is the liveness poll period. Zero means
	// monitor.DefaultInterval.
	MonitorInterval time.Duration

	// SettleDelay is waited after connecting to the target, before the
	// control block is located.
	SettleDelay time.Duration

	// CapturePath, if set, records all traffic to this file.
	CapturePath        string
	CaptureCompression capture.Compression
}

// Session is a snapshot of an active bridge session.
type Session struct {
	ID           string
	ProbeSerial  string
	Target       string
	Interface    devicelink.Interface
	Speed        devicelink.Speed
	BufferIndex  int
	Mode         locator.Mode
	ControlBlock devicelink.Address
	LocalAddr    string
	RemoteAddr   string
	StartedAt    time.Time
}

// Bridge owns at most one session. Configure the exported fields
// before the first Start.
type Bridge struct {
	Options Options

	// NewLink creates the device link for a session. Required.
	NewLink func() devicelink.Link

	// OnLinkLost, if set, is called once per session that ends because
	// the link was lost or the engine failed. It runs on its own
	// goroutine after the session has been stopped.
	OnLinkLost func(session Session, cause error)

	// Locator tunes control block acquisition. Nil uses the locator
	// defaults with this bridge's Clock and Logger.
	Locator *locator.Locator

	// Clock drives the settle delay, acquisition retries, forwarding,
	// and monitoring. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	mu       sync.Mutex
	starting bool
	active   *activeSession
	cache    locator.Resolution
}

// activeSession holds the resources of one running session.
type activeSession struct {
	session   Session
	link      devicelink.Link
	transport *transport.UDP
	capture   *capture.Writer
	engine    *forward.Engine
	monitor   *monitor.Monitor
	done      chan struct{}

	teardownOnce sync.Once
	lostOnce     sync.Once
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bridge) clock() clock.Clock {
	if b.Clock != nil {
		return b.Clock
	}
	return clock.Real()
}

func (b *Bridge) locator() *locator.Locator {
	if b.Locator != nil {
		return b.Locator
	}
	return &locator.Locator{Clock: b.Clock, Logger: b.logger()}
}

// Start sets up a session. On failure everything acquired so far is
// released and the error wraps one of devicelink.ErrLinkOpenFailed,
// devicelink.ErrTargetConnectFailed, locator.ErrAddressExtraction,
// locator.ErrControlBlockNotFound, transport.ErrSetupFailed, or the
// context's error.
func (b *Bridge) Start(ctx context.Context) error {
	if b.NewLink == nil {
		return fmt.Errorf("bridge: NewLink is required")
	}
	b.mu.Lock()
	if b.starting || b.active != nil {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.starting = true
	cached := b.cache
	b.mu.Unlock()

	active, resolution, err := b.setup(ctx, cached)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.starting = false
	if !resolution.IsZero() {
		b.cache = resolution
	}
	if err != nil {
		b.logger().Error("bridge start failed", "error", err)
		return err
	}
	b.active = active
	active.launch(ctx)

	b.logger().Info("bridge started",
		"session_id", active.session.ID,
		"target", active.session.Target,
		"mode", active.session.Mode.String(),
		"control_block", active.session.ControlBlock.String(),
		"buffer_index", active.session.BufferIndex,
		"local_addr", active.session.LocalAddr,
		"remote_addr", active.session.RemoteAddr,
	)
	return nil
}

// setup runs the start sequence. The returned resolution is non-zero
// whenever the control block was located, even if a later step failed.
func (b *Bridge) setup(ctx context.Context, cached locator.Resolution) (*activeSession, locator.Resolution, error) {
	options := b.Options
	logger := b.logger()
	sessionLocator := b.locator()

	if err := options.Forward.Validate(); err != nil {
		return nil, locator.Resolution{}, err
	}
	if err := options.Acquisition.Validate(); err != nil {
		return nil, locator.Resolution{}, err
	}
	spec, err := sessionLocator.Derive(options.Acquisition, cached)
	if err != nil {
		return nil, locator.Resolution{}, err
	}

	link := b.NewLink()
	rollback := func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if err := link.StopChannel(stopCtx); err != nil {
			logger.Debug("stopping transfer channel during rollback", "error", err)
		}
		if err := link.Close(); err != nil {
			logger.Debug("closing link during rollback", "error", err)
		}
	}

	if err := link.Open(ctx, options.ProbeSerial); err != nil {
		link.Close()
		return nil, locator.Resolution{}, ensureWrapped(err, devicelink.ErrLinkOpenFailed)
	}
	if err := link.Connect(ctx, options.Target, options.Interface, options.Speed); err != nil {
		link.Close()
		return nil, locator.Resolution{}, ensureWrapped(err, devicelink.ErrTargetConnectFailed)
	}

	if options.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			link.Close()
			return nil, locator.Resolution{}, ctx.Err()
		case <-b.clock().After(options.SettleDelay):
		}
	}

	resolution, err := sessionLocator.Locate(ctx, link, spec, cached)
	if err != nil {
		rollback()
		return nil, locator.Resolution{}, err
	}

	udp, err := transport.Listen(ctx, transport.Config{
		RemoteAddress: options.RemoteAddress,
		LocalAddress:  options.LocalAddress,
		LocalPort:     options.LocalPort,
		Logger:        logger,
	})
	if err != nil {
		rollback()
		return nil, resolution, err
	}

	session := Session{
		ID:           uuid.NewString(),
		ProbeSerial:  options.ProbeSerial,
		Target:       options.Target,
		Interface:    options.Interface,
		Speed:        options.Speed,
		BufferIndex:  options.Forward.BufferIndex,
		Mode:         resolution.Mode,
		ControlBlock: resolution.Address,
		LocalAddr:    udp.LocalAddr().String(),
		RemoteAddr:   udp.RemoteAddr().String(),
		StartedAt:    b.clock().Now(),
	}
	sessionLogger := logger.With("session_id", session.ID)

	var writer *capture.Writer
	if options.CapturePath != "" {
		writer, err = capture.Create(options.CapturePath, capture.Options{
			Compression: options.CaptureCompression,
			Header: capture.Header{
				SessionID:    session.ID,
				Target:       session.Target,
				ControlBlock: uint32(session.ControlBlock),
				BufferIndex:  session.BufferIndex,
				StartedAt:    session.StartedAt.UnixNano(),
			},
			Clock:  b.Clock,
			Logger: sessionLogger,
		})
		if err != nil {
			udp.Close()
			rollback()
			return nil, resolution, err
		}
	}

	active := &activeSession{
		session:   session,
		link:      link,
		transport: udp,
		capture:   writer,
		done:      make(chan struct{}),
	}

	active.engine = forward.New(link, udp, options.Forward)
	active.engine.Clock = b.Clock
	active.engine.Logger = sessionLogger
	if writer != nil {
		active.engine.Tap = writer
	}
	active.engine.OnFatal = func(err error) { b.sessionLost(active, err) }

	active.monitor = monitor.New(link, func() { b.sessionLost(active, ErrLinkLost) })
	active.monitor.Clock = b.Clock
	active.monitor.Logger = sessionLogger
	active.monitor.Interval = options.MonitorInterval

	return active, resolution, nil
}

// launch starts the engine and monitor. The session must already be
// registered so that a loss reported immediately finds it.
func (a *activeSession) launch(ctx context.Context) {
	sessionCtx := context.WithoutCancel(ctx)
	a.engine.Start(sessionCtx)
	a.monitor.Start(sessionCtx)
}

// ensureWrapped makes err match sentinel for links that return bare
// errors.
func ensureWrapped(err, sentinel error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Stop ends the active session, if any. The resolution cache is kept.
func (b *Bridge) Stop() {
	b.mu.Lock()
	active := b.active
	b.active = nil
	b.mu.Unlock()
	if active == nil {
		return
	}
	b.teardown(active)
}

// teardown releases a session's resources once, in order.
func (b *Bridge) teardown(active *activeSession) {
	active.teardownOnce.Do(func() {
		logger := b.logger().With("session_id", active.session.ID)

		active.engine.Stop()
		active.monitor.Stop()
		if err := active.transport.Close(); err != nil {
			logger.Warn("closing udp transport", "error", err)
		}
		if active.capture != nil {
			if err := active.capture.Close(); err != nil {
				logger.Warn("closing capture", "error", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := active.link.StopChannel(ctx); err != nil {
			logger.Warn("stopping transfer channel", "error", err)
		}
		if err := active.link.Close(); err != nil {
			logger.Warn("closing device link", "error", err)
		}

		stats := active.engine.Stats()
		attrs := []any{
			"duration", b.clock().Now().Sub(active.session.StartedAt).String(),
			"bytes_to_udp", stats.BytesSent,
			"bytes_to_device", stats.BytesWritten,
		}
		if peer := active.transport.LastSender(); peer != nil {
			attrs = append(attrs, "last_peer", peer.String())
		}
		logger.Info("bridge stopped", attrs...)
		close(active.done)
	})
}

// sessionLost stops a session from a background goroutine and notifies
// OnLinkLost, once per session.
func (b *Bridge) sessionLost(active *activeSession, cause error) {
	active.lostOnce.Do(func() {
		b.logger().Error("session lost",
			"session_id", active.session.ID,
			"cause", cause,
		)
		go func() {
			b.mu.Lock()
			if b.active == active {
				b.active = nil
			}
			b.mu.Unlock()
			b.teardown(active)
			if b.OnLinkLost != nil {
				b.OnLinkLost(active.session, cause)
			}
		}()
	})
}

// Running reports whether a session is active.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active != nil
}

// Session returns a snapshot of the active session.
func (b *Bridge) Session() (Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return Session{}, false
	}
	return b.active.session, true
}

// Done returns a channel closed when the active session has been torn
// down, for any reason. Without an active session the channel is
// already closed.
func (b *Bridge) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return b.active.done
}

// Stats returns the forwarding counters of the active session.
func (b *Bridge) Stats() (forward.StatsSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return forward.StatsSnapshot{}, false
	}
	return b.active.engine.Stats(), true
}

// Resolution returns the cached control block resolution.
func (b *Bridge) Resolution() locator.Resolution {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache
}

// RemoteAddress joins a host and port into a UDP destination.
func RemoteAddress(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
