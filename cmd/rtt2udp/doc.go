// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Rtt2udp forwards a target's RTT transfer channel to a UDP peer and
// writes datagrams from that peer back down to the target.
//
// Without a subcommand it runs the bridge until interrupted. The other
// subcommands are offline helpers: extract-address reads the control
// block address from a linker map, config show prints the effective
// configuration, and capture dump prints a recorded session.
//
// Configuration comes from --config (or RTT2UDP_CONFIG), or from a
// legacy config.json via --legacy-config. Flags
// override individual values.
package main
