// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/rtt2udp/forward"
	"github.com/bureau-foundation/rtt2udp/lib/clock"
	"github.com/bureau-foundation/rtt2udp/lib/codec"
)

// DefaultQueueSize is the number of frames buffered between Record
// and the writer goroutine.
const DefaultQueueSize = 1024

var _ forward.Tap = (*Writer)(nil)

// Options configures Create.
type Options struct {
	Compression Compression
	Header      Header

	// QueueSize bounds pending frames. Zero means DefaultQueueSize.
	QueueSize int

	// Clock stamps frames. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger
}

// Writer appends frames to a capture file from a background goroutine.
type Writer struct {
	path       string
	file       *os.File
	compressor io.WriteCloser
	encoder    *codec.Encoder
	clock      clock.Clock
	logger     *slog.Logger

	mu     sync.RWMutex
	queue  chan Frame
	closed bool

	done     chan struct{}
	writeErr error // set by the writer goroutine, read after done

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// Create truncates or creates path, writes the preamble and header,
// and starts the writer goroutine.
func Create(path string, options Options) (*Writer, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeSource := options.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	queueSize := options.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	preamble := append(magic[:], formatVersion, byte(options.Compression))
	if _, err := file.Write(preamble); err != nil {
		file.Close()
		return nil, fmt.Errorf("capture: writing preamble: %w", err)
	}

	compressor, err := newCompressor(file, options.Compression)
	if err != nil {
		file.Close()
		return nil, err
	}

	header := options.Header
	if header.StartedAt == 0 {
		header.StartedAt = timeSource.Now().UnixNano()
	}
	encoder := codec.NewEncoder(compressor)
	if err := encoder.Encode(header); err != nil {
		compressor.Close()
		file.Close()
		return nil, fmt.Errorf("capture: writing header: %w", err)
	}

	writer := &Writer{
		path:       path,
		file:       file,
		compressor: compressor,
		encoder:    encoder,
		clock:      timeSource,
		logger:     logger,
		queue:      make(chan Frame, queueSize),
		done:       make(chan struct{}),
	}
	go writer.run()

	logger.Info("capture started",
		"path", path,
		"compression", options.Compression.String(),
		"session_id", header.SessionID,
	)
	return writer, nil
}

// newCompressor wraps file in the stream compressor for compression.
func newCompressor(file io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case CompressionNone:
		return &flushCloser{bufio.NewWriter(file)}, nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("capture: zstd writer: %w", err)
		}
		return encoder, nil
	case CompressionLZ4:
		return lz4.NewWriter(file), nil
	}
	return nil, fmt.Errorf("capture: unsupported compression %s", compression)
}

// flushCloser turns Close into Flush for an uncompressed stream.
type flushCloser struct {
	*bufio.Writer
}

func (f *flushCloser) Close() error { return f.Flush() }

// Record queues a copy of payload. It never blocks: when the queue is
// full, or the writer is closed, the frame is dropped and counted.
func (w *Writer) Record(direction forward.Direction, payload []byte) {
	frame := Frame{
		Time:      w.clock.Now().UnixNano(),
		Direction: direction,
		Payload:   append([]byte(nil), payload...),
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.queue <- frame:
	default:
		w.dropped.Add(1)
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for frame := range w.queue {
		if w.writeErr != nil {
			w.dropped.Add(1)
			continue
		}
		if err := w.encoder.Encode(frame); err != nil {
			w.writeErr = fmt.Errorf("capture: writing frame: %w", err)
			w.logger.Error("capture write failed; further frames are dropped",
				"path", w.path,
				"error", err,
			)
			w.dropped.Add(1)
			continue
		}
		w.frames.Add(1)
	}
}

// Frames returns the number of frames written.
func (w *Writer) Frames() uint64 { return w.frames.Load() }

// Dropped returns the number of frames discarded.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Close drains the queue, flushes the compressor, and closes the file.
// Safe to call more than once; later calls return nil.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
	err := errors.Join(
		w.writeErr,
		w.compressor.Close(),
		w.file.Sync(),
		w.file.Close(),
	)
	w.logger.Info("capture closed",
		"path", w.path,
		"frames", w.frames.Load(),
		"dropped", w.dropped.Load(),
	)
	if err != nil {
		return fmt.Errorf("capture: closing %s: %w", w.path, err)
	}
	return nil
}
