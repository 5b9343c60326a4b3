// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge runs one device-to-UDP forwarding session at a time.
//
// [Bridge.Start] performs the setup sequence: derive the control block
// address from a map file when configured, open the probe, connect to
// the target, let it settle, locate the control block, bind the UDP
// socket, open the optional capture file, and start the forwarding
// engine and the connection monitor. A failing step rolls back
// everything acquired before it and returns one error wrapping the
// step's sentinel.
//
// [Bridge.Stop] tears the session down in reverse: engine, monitor,
// UDP socket, capture, transfer channel, probe. It is idempotent and
// keeps the control block resolution cached so that the next Start can
// skip a search or re-reading the map file.
//
// When the monitor reports the link lost, or the engine gives up on
// repeated read failures, the bridge stops the session on its own
// goroutine and calls OnLinkLost once for that session. The caller
// decides whether to reconnect.
//
// [Session] is an immutable snapshot of the running session, including
// a UUID that ties log lines and capture files to one connection.
package bridge
