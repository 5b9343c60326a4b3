// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package forward moves bytes between a device transfer channel and a
// UDP transport.
//
// An [Engine] runs three pipelines per session:
//
//   - device-read polls the device's up buffer and appends whatever is
//     available to the session's [Buffer]. A full buffer pauses reading;
//     the remainder waits in the device's own ring buffer.
//   - flush drains the buffer into one Transport.Send when the pending
//     byte count reaches the flush threshold or the flush interval has
//     elapsed since the previous send (see [FlushPolicy]).
//   - udp-to-device writes each received datagram to the device's down
//     buffer.
//
// The buffer mutex is the only lock shared between pipelines and is
// never held across device or network I/O. Bytes read from the device
// leave the engine in the order they were read, each exactly once.
// Every Start allocates a new buffer, so a pipeline left behind by a
// timed-out Stop cannot leak bytes into the next session.
package forward
