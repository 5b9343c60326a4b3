// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture records bridge traffic to a file for later
// inspection.
//
// A capture file starts with an uncompressed preamble (magic, format
// version, compression tag) followed by a compressed CBOR sequence:
// one [Header] and then one [Frame] per forwarded payload. Supported
// compressions are none, zstd (klauspost/compress), and lz4
// (pierrec/lz4 frame format).
//
// The [Writer] implements forward.Tap. Record never blocks the
// forwarding pipelines: frames go through a bounded queue to a writer
// goroutine, and frames arriving while the queue is full are dropped
// and counted.
package capture
