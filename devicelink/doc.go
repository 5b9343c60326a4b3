// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devicelink defines the boundary between the bridge and the
// debug-probe session that gives access to the target's transfer
// channel (SEGGER RTT).
//
// [Link] is the narrow capability surface the bridge consumes: open a
// probe, connect to a target, start the channel at a control-block
// address or search range, move bytes through a buffer index, and
// report liveness. The ring-buffer protocol itself lives behind the
// Link; the bridge only ever sees byte slices.
//
// Values that cross the boundary are typed and parsed once:
// [Address] for device memory addresses, [Interface] for SWD/JTAG,
// [Speed] for the debug clock, and [SearchRange] for control-block
// scans. The Parse functions reject malformed input instead of
// coercing it.
//
// [Memory] is an in-process Link used by tests and by the CLI's
// loopback demo backend. The OpenOCD backend lives in
// devicelink/openocd.
package devicelink
