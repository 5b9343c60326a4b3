// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/rtt2udp/forward"
)

// magic opens every capture file.
var magic = [6]byte{'R', 'T', 'T', 'C', 'A', 'P'}

// formatVersion is bumped when Header or Frame change incompatibly.
const formatVersion = 1

// ErrNotCapture is returned by Open for files without the capture
// preamble or with an unknown version or compression.
var ErrNotCapture = errors.New("capture: not a capture file")

// Compression selects the stream compression. The values are stored
// in the file preamble.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

// ParseCompression accepts "none", "zstd", and "lz4".
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return 0, fmt.Errorf("capture: unknown compression %q (want none, zstd, or lz4)", name)
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// Header describes the session a capture belongs to.
type Header struct {
	SessionID    string `json:"session_id" cbor:"1,keyasint"`
	Target       string `json:"target" cbor:"2,keyasint,omitempty"`
	ControlBlock uint32 `json:"control_block" cbor:"3,keyasint,omitempty"`
	BufferIndex  int    `json:"buffer_index" cbor:"4,keyasint"`
	// StartedAt is Unix nanoseconds.
	StartedAt int64 `json:"started_at" cbor:"5,keyasint"`
}

// Frame is one forwarded payload.
type Frame struct {
	// Time is Unix nanoseconds at which the payload was recorded.
	Time      int64             `json:"time" cbor:"1,keyasint"`
	Direction forward.Direction `json:"direction" cbor:"2,keyasint"`
	Payload   []byte            `json:"payload" cbor:"3,keyasint"`
}

// Timestamp returns Time as a time.Time.
func (f Frame) Timestamp() time.Time {
	return time.Unix(0, f.Time)
}
