// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/rtt2udp/lib/codec"
)

// Reader iterates the frames of a capture file.
type Reader struct {
	file         *os.File
	decompressor io.Reader
	release      func()
	decoder      *codec.Decoder
	header       Header
	compression  Compression
}

// Open reads the preamble and header of the capture at path.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	reader, err := newReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("capture: %s: %w", path, err)
	}
	return reader, nil
}

func newReader(file *os.File) (*Reader, error) {
	buffered := bufio.NewReader(file)
	preamble := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(buffered, preamble); err != nil {
		return nil, fmt.Errorf("%w: short preamble", ErrNotCapture)
	}
	if !bytes.Equal(preamble[:len(magic)], magic[:]) {
		return nil, ErrNotCapture
	}
	if version := preamble[len(magic)]; version != formatVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrNotCapture, version)
	}

	reader := &Reader{file: file, compression: Compression(preamble[len(magic)+1]), release: func() {}}
	switch reader.compression {
	case CompressionNone:
		reader.decompressor = buffered
	case CompressionZstd:
		decoder, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		reader.decompressor = decoder
		reader.release = decoder.Close
	case CompressionLZ4:
		reader.decompressor = lz4.NewReader(buffered)
	default:
		return nil, fmt.Errorf("%w: compression %s", ErrNotCapture, reader.compression)
	}

	reader.decoder = codec.NewDecoder(reader.decompressor)
	if err := reader.decoder.Decode(&reader.header); err != nil {
		reader.release()
		return nil, fmt.Errorf("reading header: %w", err)
	}
	return reader, nil
}

// Header returns the session header.
func (r *Reader) Header() Header { return r.header }

// Compression returns the stream compression named in the preamble.
func (r *Reader) Compression() Compression { return r.compression }

// Next returns the next frame, or io.EOF after the last one. A file
// cut off mid-frame, as left by a crash, ends with
// io.ErrUnexpectedEOF.
func (r *Reader) Next() (Frame, error) {
	var frame Frame
	if err := r.decoder.Decode(&frame); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("capture: reading frame: %w", err)
	}
	return frame, nil
}

// Close releases the decompressor and closes the file.
func (r *Reader) Close() error {
	r.release()
	return r.file.Close()
}
