// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport is the UDP side of the bridge.
//
// [Listen] binds a local socket and resolves the destination once.
// [UDP.Send] is fire-and-forget: a datagram nobody receives is not an
// error, and payloads larger than the configured datagram size are
// split into consecutive datagrams in order. [UDP.Receive] waits up to
// a timeout for one inbound datagram and remembers who sent it.
//
// Binding a fixed local port sets SO_REUSEADDR so that a restarted
// bridge can rebind immediately.
package transport
