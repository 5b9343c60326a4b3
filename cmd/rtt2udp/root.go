// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rtt2udp/lib/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath       string
	legacyConfigPath string
	debug            bool
}

// overrideFlags replace single configuration values. Only flags the
// user set are applied.
type overrideFlags struct {
	backend            string
	serial             string
	rpcAddress         string
	device             string
	debugInterface     string
	speed              string
	mode               string
	address            string
	bufferIndex        int
	mapFile            string
	symbol             string
	rederive           bool
	remoteIP           string
	remotePort         int
	localPort          int
	pollingInterval    string
	capturePath        string
	captureCompression string
}

func (o *overrideFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&o.backend, "backend", "", "device backend: openocd or memory")
	flags.StringVar(&o.serial, "serial", "", "probe serial number")
	flags.StringVar(&o.rpcAddress, "openocd", "", "OpenOCD TCL RPC address (host:port)")
	flags.StringVarP(&o.device, "device", "d", "", "target device name")
	flags.StringVar(&o.debugInterface, "interface", "", "debug interface: SWD or JTAG")
	flags.StringVar(&o.speed, "speed", "", "debug speed: auto, adaptive, or kHz")
	flags.StringVar(&o.mode, "mode", "", "control block acquisition: direct, search, or derived")
	flags.StringVar(&o.address, "address", "", "control block address for direct mode")
	flags.IntVar(&o.bufferIndex, "buffer", 0, "RTT buffer index")
	flags.StringVar(&o.mapFile, "map", "", "linker map file for derived mode")
	flags.StringVar(&o.symbol, "symbol", "", "control block symbol in the map file")
	flags.BoolVar(&o.rederive, "rederive", false, "re-read the map file on every reconnect")
	flags.StringVar(&o.remoteIP, "udp-ip", "", "UDP destination address")
	flags.IntVarP(&o.remotePort, "udp-port", "p", 0, "UDP destination port")
	flags.IntVar(&o.localPort, "local-port", 0, "local UDP port (0 picks one)")
	flags.StringVar(&o.pollingInterval, "poll", "", "device polling interval, e.g. 1ms")
	flags.StringVar(&o.capturePath, "capture", "", "record traffic to this file")
	flags.StringVar(&o.captureCompression, "capture-compression", "", "capture compression: none, zstd, or lz4")
}

func (o *overrideFlags) apply(flags *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("backend", func() { cfg.Probe.Backend = config.Backend(o.backend) })
	set("serial", func() { cfg.Probe.Serial = o.serial })
	set("openocd", func() { cfg.Probe.OpenOCD.RPCAddress = o.rpcAddress })
	set("device", func() { cfg.Target.Device = o.device })
	set("interface", func() { cfg.Target.Interface = o.debugInterface })
	set("speed", func() { cfg.Target.Speed = o.speed })
	set("mode", func() { cfg.RTT.Mode = o.mode })
	set("address", func() {
		cfg.RTT.Address = o.address
		if !flags.Changed("mode") {
			cfg.RTT.Mode = "direct"
		}
	})
	set("buffer", func() { cfg.RTT.BufferIndex = o.bufferIndex })
	set("map", func() {
		cfg.RTT.MapFile = o.mapFile
		if !flags.Changed("mode") {
			cfg.RTT.Mode = "derived"
		}
	})
	set("symbol", func() { cfg.RTT.Symbol = o.symbol })
	set("rederive", func() { cfg.RTT.Rederive = o.rederive })
	set("udp-ip", func() { cfg.UDP.RemoteIP = o.remoteIP })
	set("udp-port", func() { cfg.UDP.RemotePort = o.remotePort })
	set("local-port", func() { cfg.UDP.LocalPort = o.localPort })
	set("poll", func() { cfg.Forward.PollingInterval = o.pollingInterval })
	set("capture", func() { cfg.Capture.Path = o.capturePath })
	set("capture-compression", func() { cfg.Capture.Compression = o.captureCompression })
}

// loadConfig reads the configured file, or the defaults when there is
// none, and applies the overrides.
func loadConfig(global *globalFlags, overrides *overrideFlags, flags *pflag.FlagSet) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case global.configPath != "" && global.legacyConfigPath != "":
		return nil, fmt.Errorf("--config and --legacy-config are mutually exclusive")
	case global.legacyConfigPath != "":
		cfg, err = config.LoadLegacyJSON(global.legacyConfigPath)
	case global.configPath != "":
		cfg, err = config.LoadFile(global.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	overrides.apply(flags, cfg)
	if global.debug {
		cfg.Log.Debug = true
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	global := &globalFlags{}
	run := &runFlags{}

	root := &cobra.Command{
		Use:   "rtt2udp",
		Short: "Forward a target's RTT channel over UDP",
		Long: `rtt2udp connects to a debug probe, locates the RTT control block on the
target, and forwards the up buffer to a UDP peer. Datagrams from the peer
are written to the down buffer.

Without a subcommand, rtt2udp runs the bridge (same as "rtt2udp run").`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridgeCommand(cmd, global, run)
		},
	}

	persistent := root.PersistentFlags()
	persistent.StringVarP(&global.configPath, "config", "c", "", "YAML configuration file (default $"+config.EnvironmentVariable+")")
	persistent.StringVar(&global.legacyConfigPath, "legacy-config", "", "import a legacy config.json")
	persistent.BoolVar(&global.debug, "debug", false, "enable debug logging")

	run.register(root.Flags())

	root.AddCommand(
		newRunCommand(global),
		newExtractAddressCommand(),
		newConfigCommand(global),
		newCaptureCommand(),
		newVersionCommand(),
	)
	return root
}

// defaultReconnectDelay separates a lost session from the next start.
const defaultReconnectDelay = 2 * time.Second
