// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration used for on-disk capture
// files. Frames are written as a CBOR sequence (RFC 8742): one data
// item per frame, no framing beyond CBOR's own length prefixes, so a
// truncated capture still decodes up to its last complete frame.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same frame always produces the same bytes.
//
//	encoder := codec.NewEncoder(compressedFile)
//	err := encoder.Encode(frame)
package codec
