// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/rtt2udp/locator"
)

func newExtractAddressCommand() *cobra.Command {
	var symbol string
	command := &cobra.Command{
		Use:   "extract-address <map-file>",
		Short: "Print the control block address from a linker map",
		Long: `Reads an armlink or GNU ld map file and prints the address of the
control block symbol, the same lookup derived mode performs at startup.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := locator.ExtractAddressFile(args[0], symbol)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), address.String())
			return nil
		},
	}
	command.Flags().StringVar(&symbol, "symbol", locator.DefaultSymbol, "symbol to look up")
	return command
}
