// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package openocd implements [devicelink.Link] on top of a running
// OpenOCD server.
//
// Control traffic uses OpenOCD's TCL-RPC port (6666 by default): each
// command is sent as a Tcl script terminated by 0x1a and answered by a
// result terminated by 0x1a. Commands are wrapped so that the first
// line of every result is the Tcl status code, which lets the client
// tell a failed command from one that printed an error-looking string.
//
// The transfer channel itself is handled by OpenOCD's rtt subsystem.
// StartChannel drives "rtt setup" and "rtt start"; channel data flows
// over the TCP sockets opened by "rtt server start", one per buffer
// index. A pump goroutine per socket accumulates inbound bytes so that
// ReadAvailable never waits on the network.
package openocd
