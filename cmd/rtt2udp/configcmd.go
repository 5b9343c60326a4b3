// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/bureau-foundation/rtt2udp/lib/config"
	"github.com/bureau-foundation/rtt2udp/locator"
)

func newConfigCommand(global *globalFlags) *cobra.Command {
	command := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	command.AddCommand(newConfigShowCommand(global))
	return command
}

func newConfigShowCommand(global *globalFlags) *cobra.Command {
	var (
		overrides overrideFlags
		asYAML    bool
	)
	command := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Loads the configuration the same way "run" does, applies flag
overrides, and prints the result. With --yaml the output is a file that
--config accepts, which converts a legacy config.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global, &overrides, cmd.Flags())
			if err != nil {
				return err
			}
			if asYAML {
				data, err := cfg.Marshal()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			options, err := cfg.Options()
			if err != nil {
				return err
			}
			return pterm.DefaultTable.WithHasHeader().WithData(optionsTable(options)).Render()
		},
	}
	overrides.register(command.Flags())
	command.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of a table")
	return command
}

// optionsTable lists the parsed options, one setting per row.
func optionsTable(options config.Options) [][]string {
	bridgeOptions := options.Bridge
	acquisition := bridgeOptions.Acquisition
	rows := [][]string{
		{"Setting", "Value"},
		{"Backend", string(options.Backend)},
	}
	if options.Backend == config.BackendOpenOCD {
		rows = append(rows,
			[]string{"OpenOCD RPC", options.OpenOCD.RPCAddress},
			[]string{"OpenOCD data ports", strconv.Itoa(options.OpenOCD.DataPortBase) + "+"},
		)
	} else {
		rows = append(rows, []string{"Simulated control block", options.Memory.ControlBlock.String()})
	}
	rows = append(rows,
		[]string{"Probe serial", orDash(bridgeOptions.ProbeSerial)},
		[]string{"Target", bridgeOptions.Target},
		[]string{"Interface", bridgeOptions.Interface.String()},
		[]string{"Speed", bridgeOptions.Speed.String()},
		[]string{"Acquisition", acquisition.Mode.String()},
	)
	switch acquisition.Mode {
	case locator.ModeDirect:
		rows = append(rows, []string{"Control block", acquisition.Address.String()})
	case locator.ModeSearch:
		rows = append(rows, []string{"Search range", acquisition.Range.String()})
	case locator.ModeDerived:
		rows = append(rows,
			[]string{"Map file", acquisition.MapFile},
			[]string{"Symbol", orDash(acquisition.Symbol)},
			[]string{"Rederive", strconv.FormatBool(acquisition.Rederive)},
		)
	}
	rows = append(rows,
		[]string{"Buffer index", strconv.Itoa(bridgeOptions.Forward.BufferIndex)},
		[]string{"UDP destination", bridgeOptions.RemoteAddress},
		[]string{"UDP local port", strconv.Itoa(bridgeOptions.LocalPort)},
		[]string{"Polling interval", bridgeOptions.Forward.PollInterval.String()},
		[]string{"Flush threshold", strconv.Itoa(bridgeOptions.Forward.FlushThreshold)},
		[]string{"Flush interval", bridgeOptions.Forward.FlushInterval.String()},
		[]string{"Monitor interval", bridgeOptions.MonitorInterval.String()},
		[]string{"Settle delay", bridgeOptions.SettleDelay.String()},
		[]string{"Capture", orDash(bridgeOptions.CapturePath)},
		[]string{"Debug logging", strconv.FormatBool(options.Debug)},
	)
	return rows
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
