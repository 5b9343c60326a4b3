// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/bureau-foundation/rtt2udp/capture"
	"github.com/bureau-foundation/rtt2udp/forward"
)

func newCaptureCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "capture",
		Short: "Work with recorded sessions",
	}
	command.AddCommand(newCaptureDumpCommand())
	return command
}

func newCaptureDumpCommand() *cobra.Command {
	var (
		payloads  bool
		direction string
	)
	command := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print the frames of a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseDirectionFilter(direction)
			if err != nil {
				return err
			}
			reader, err := capture.Open(args[0])
			if err != nil {
				return err
			}
			defer reader.Close()

			header := reader.Header()
			startedAt := time.Unix(0, header.StartedAt)
			err = pterm.DefaultTable.WithData(pterm.TableData{
				{"Session", header.SessionID},
				{"Target", header.Target},
				{"Control block", fmt.Sprintf("0x%08X", header.ControlBlock)},
				{"Buffer index", fmt.Sprint(header.BufferIndex)},
				{"Started", startedAt.UTC().Format(time.RFC3339Nano)},
				{"Compression", reader.Compression().String()},
			}).Render()
			if err != nil {
				return err
			}

			return dumpFrames(cmd.OutOrStdout(), reader, startedAt, filter, payloads)
		},
	}
	command.Flags().BoolVar(&payloads, "payload", false, "hex dump each payload")
	command.Flags().StringVar(&direction, "direction", "", "only frames in this direction: up (device to UDP) or down")
	return command
}

// parseDirectionFilter returns nil for no filter.
func parseDirectionFilter(text string) (*forward.Direction, error) {
	var direction forward.Direction
	switch text {
	case "":
		return nil, nil
	case "up":
		direction = forward.DeviceToUDP
	case "down":
		direction = forward.UDPToDevice
	default:
		return nil, fmt.Errorf("unknown direction %q (want up or down)", text)
	}
	return &direction, nil
}

// frameSource is the part of capture.Reader dumpFrames reads.
type frameSource interface {
	Next() (capture.Frame, error)
}

func dumpFrames(output io.Writer, source frameSource, startedAt time.Time, filter *forward.Direction, payloads bool) error {
	var frames, bytes int
	for {
		frame, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if filter != nil && frame.Direction != *filter {
			continue
		}
		frames++
		bytes += len(frame.Payload)
		fmt.Fprintf(output, "%12s  %-12s  %6d bytes\n",
			frame.Timestamp().Sub(startedAt).Round(time.Microsecond),
			frame.Direction,
			len(frame.Payload),
		)
		if payloads {
			fmt.Fprint(output, hex.Dump(frame.Payload))
		}
	}
	fmt.Fprintf(output, "%d frames, %d bytes\n", frames, bytes)
	return nil
}
