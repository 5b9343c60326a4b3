// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rtt2udp/bridge"
	"github.com/bureau-foundation/rtt2udp/devicelink"
	"github.com/bureau-foundation/rtt2udp/devicelink/openocd"
	"github.com/bureau-foundation/rtt2udp/forward"
	"github.com/bureau-foundation/rtt2udp/lib/clock"
	"github.com/bureau-foundation/rtt2udp/lib/config"
)

type runFlags struct {
	overrides      overrideFlags
	reconnect      bool
	reconnectDelay time.Duration
}

func (r *runFlags) register(flags *pflag.FlagSet) {
	r.overrides.register(flags)
	flags.BoolVar(&r.reconnect, "reconnect", false, "restart the session after the link is lost or setup fails")
	flags.DurationVar(&r.reconnectDelay, "reconnect-delay", defaultReconnectDelay, "wait between reconnect attempts")
}

func newRunCommand(global *globalFlags) *cobra.Command {
	run := &runFlags{}
	command := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridgeCommand(cmd, global, run)
		},
	}
	run.register(command.Flags())
	return command
}

func runBridgeCommand(cmd *cobra.Command, global *globalFlags, run *runFlags) error {
	cfg, err := loadConfig(global, &run.overrides, cmd.Flags())
	if err != nil {
		return err
	}
	options, err := cfg.Options()
	if err != nil {
		return err
	}

	logger := newLogger(options.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &sessionRunner{
		bridge: &bridge.Bridge{
			Options: options.Bridge,
			NewLink: linkFactory(options, logger),
			Logger:  logger,
		},
		reconnect:      run.reconnect,
		reconnectDelay: run.reconnectDelay,
		clock:          clock.Real(),
		logger:         logger,
		onStarted:      printSession,
		onStopped:      printStats,
	}
	return runner.run(ctx)
}

// linkFactory returns the NewLink function for the configured backend.
func linkFactory(options config.Options, logger *slog.Logger) func() devicelink.Link {
	switch options.Backend {
	case config.BackendMemory:
		return func() devicelink.Link { return devicelink.NewMemory(options.Memory) }
	default:
		openocdConfig := options.OpenOCD
		openocdConfig.Logger = logger
		return func() devicelink.Link { return openocd.New(openocdConfig) }
	}
}

// sessionRunner drives a bridge through successive sessions.
type sessionRunner struct {
	bridge         *bridge.Bridge
	reconnect      bool
	reconnectDelay time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	onStarted func(bridge.Session)
	onStopped func(forward.StatsSnapshot)
}

// run returns nil when ctx is cancelled, or the first error when
// reconnecting is off.
func (r *sessionRunner) run(ctx context.Context) error {
	lost := make(chan error, 1)
	r.bridge.OnLinkLost = func(_ bridge.Session, cause error) {
		select {
		case lost <- cause:
		default:
		}
	}

	for {
		if err := r.bridge.Start(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !r.reconnect {
				return err
			}
			r.logger.Warn("session setup failed, retrying", "error", err, "delay", r.reconnectDelay)
			if !r.wait(ctx) {
				return nil
			}
			continue
		}
		if session, ok := r.bridge.Session(); ok && r.onStarted != nil {
			r.onStarted(session)
		}

		select {
		case <-ctx.Done():
			stats, _ := r.bridge.Stats()
			r.bridge.Stop()
			if r.onStopped != nil {
				r.onStopped(stats)
			}
			return nil
		case cause := <-lost:
			if !r.reconnect {
				return fmt.Errorf("session ended: %w", cause)
			}
			r.logger.Warn("session lost, reconnecting", "cause", cause, "delay", r.reconnectDelay)
			if !r.wait(ctx) {
				return nil
			}
		}
	}
}

func (r *sessionRunner) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.clock.After(r.reconnectDelay):
		return true
	}
}

func printSession(session bridge.Session) {
	pterm.Success.Printfln("forwarding RTT buffer %d of %s (control block %s) to %s",
		session.BufferIndex, session.Target, session.ControlBlock, session.RemoteAddr)
	pterm.Info.Printfln("listening for commands on %s, session %s", session.LocalAddr, session.ID)
}

func printStats(stats forward.StatsSnapshot) {
	format := func(value uint64) string { return strconv.FormatUint(value, 10) }
	data := pterm.TableData{
		{"Counter", "Value"},
		{"Bytes read from device", format(stats.BytesRead)},
		{"Bytes sent over UDP", format(stats.BytesSent)},
		{"Datagrams received", format(stats.DatagramsIn)},
		{"Bytes written to device", format(stats.BytesWritten)},
		{"Read failures", format(stats.ReadFailures)},
		{"Write failures", format(stats.WriteFailures)},
		{"Send failures", format(stats.SendFailures)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		pterm.Error.Printfln("rendering statistics: %v", err)
	}
}
