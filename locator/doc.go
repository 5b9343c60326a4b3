// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package locator finds the transfer channel's control block on the
// target.
//
// Three acquisition modes are supported:
//
//   - Direct: the address is known. The channel is started at it, with
//     a bounded number of attempts separated by a fixed backoff while
//     the target finishes booting.
//   - Search: a memory window is scanned. The link is polled until it
//     reports a control block or the search window elapses. A
//     previously found address is tried first.
//   - Derived: the address is read from the firmware's linker map
//     file (Keil armlink or GNU ld layout) and then started as in
//     direct mode.
//
// A [Resolution] records how an address was found. Callers cache it
// across reconnects and hand it back to [Locator.Locate], which reuses
// it only when the acquisition mode has not changed.
package locator
