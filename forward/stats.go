// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import "sync/atomic"

// Stats are cumulative traffic counters for one Engine. Updated by the
// pipelines with atomic adds; read with Snapshot.
type Stats struct {
	bytesRead     atomic.Uint64
	bytesSent     atomic.Uint64
	flushes       atomic.Uint64
	datagramsIn   atomic.Uint64
	bytesWritten  atomic.Uint64
	readFailures  atomic.Uint64
	writeFailures atomic.Uint64
	sendFailures  atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	BytesRead     uint64 `json:"bytes_read"`
	BytesSent     uint64 `json:"bytes_sent"`
	Flushes       uint64 `json:"flushes"`
	DatagramsIn   uint64 `json:"datagrams_in"`
	BytesWritten  uint64 `json:"bytes_written"`
	ReadFailures  uint64 `json:"read_failures"`
	WriteFailures uint64 `json:"write_failures"`
	SendFailures  uint64 `json:"send_failures"`
	// Buffered is the byte count waiting between read and flush.
	Buffered int `json:"buffered"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BytesRead:     s.bytesRead.Load(),
		BytesSent:     s.bytesSent.Load(),
		Flushes:       s.flushes.Load(),
		DatagramsIn:   s.datagramsIn.Load(),
		BytesWritten:  s.bytesWritten.Load(),
		ReadFailures:  s.readFailures.Load(),
		WriteFailures: s.writeFailures.Load(),
		SendFailures:  s.sendFailures.Load(),
	}
}
