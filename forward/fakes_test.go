// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forward

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDevice serves an up-buffer stream in a repeating pattern of
// chunk sizes and records down-buffer writes.
type fakeDevice struct {
	mu            sync.Mutex
	stream        []byte
	chunkSizes    []int
	nextChunk     int
	maxRequested  int
	readError     error
	reads         int
	written       [][]byte
	writeFailures int
}

func (d *fakeDevice) feed(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stream = append(d.stream, data...)
}

func (d *fakeDevice) ReadAvailable(index int, maxBytes int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	d.maxRequested = max(d.maxRequested, maxBytes)
	if d.readError != nil {
		return nil, d.readError
	}
	if len(d.stream) == 0 {
		return nil, nil
	}
	count := min(len(d.stream), maxBytes)
	if len(d.chunkSizes) > 0 {
		count = min(count, d.chunkSizes[d.nextChunk%len(d.chunkSizes)])
		d.nextChunk++
	}
	data := bytes.Clone(d.stream[:count])
	d.stream = d.stream[count:]
	return data, nil
}

func (d *fakeDevice) Write(index int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeFailures > 0 {
		d.writeFailures--
		return io.ErrShortWrite
	}
	d.written = append(d.written, bytes.Clone(data))
	return nil
}

func (d *fakeDevice) remaining() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stream)
}

func (d *fakeDevice) writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.written...)
}

// fakeTransport records sends and serves inbound datagrams from a
// channel. If gate is non-nil every Send waits for a value on it.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	inbound chan []byte
	gate    chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Send(payload []byte) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, bytes.Clone(payload))
	return nil
}

func (f *fakeTransport) Receive(timeout time.Duration) ([]byte, error) {
	select {
	case payload := <-f.inbound:
		return payload, nil
	case <-f.closed:
		return nil, net.ErrClosed
	case <-time.After(timeout):
		return nil, nil
	}
}

func (f *fakeTransport) Close() {
	f.once.Do(func() { close(f.closed) })
}

func (f *fakeTransport) sends() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) sentBytes() []byte {
	return bytes.Join(f.sends(), nil)
}

// recordingTap collects tapped payloads per direction.
type recordingTap struct {
	mu       sync.Mutex
	payloads map[Direction][]byte
}

func (r *recordingTap) Record(direction Direction, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.payloads == nil {
		r.payloads = make(map[Direction][]byte)
	}
	r.payloads[direction] = append(r.payloads[direction], payload...)
}

func (r *recordingTap) seen(direction Direction) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Clone(r.payloads[direction])
}

// stallingDevice blocks its first read until release is closed and
// then returns stalled. Later reads go to the embedded fakeDevice.
type stallingDevice struct {
	*fakeDevice
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	stalled []byte
}

func newStallingDevice(stalled string) *stallingDevice {
	return &stallingDevice{
		fakeDevice: &fakeDevice{},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
		stalled:    []byte(stalled),
	}
}

func (d *stallingDevice) ReadAvailable(index int, maxBytes int) ([]byte, error) {
	first := false
	d.once.Do(func() { first = true })
	if first {
		close(d.entered)
		<-d.release
		return d.stalled, nil
	}
	return d.fakeDevice.ReadAvailable(index, maxBytes)
}
