// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

type sampleFrame struct {
	Time    int64  `cbor:"1,keyasint"`
	Payload []byte `cbor:"2,keyasint"`
}

func TestEncodingDeterministic(t *testing.T) {
	frame := sampleFrame{Time: 42, Payload: []byte("hello")}
	var first, second bytes.Buffer
	if err := NewEncoder(&first).Encode(frame); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := NewEncoder(&second).Encode(frame); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("encoding not deterministic: %x vs %x", first.Bytes(), second.Bytes())
	}

	var decoded sampleFrame
	if err := NewDecoder(&first).Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Time != 42 || string(decoded.Payload) != "hello" {
		t.Fatalf("decoded %+v", decoded)
	}
}

func TestDecodeGenericMapUsesStringKeys(t *testing.T) {
	var buffer bytes.Buffer
	header := map[string]any{"session": "abc", "buffer": 1}
	if err := NewEncoder(&buffer).Encode(header); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded any
	if err := NewDecoder(&buffer).Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if fields["session"] != "abc" {
		t.Fatalf("session = %v", fields["session"])
	}
}

func TestStreamSequence(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for i := int64(0); i < 3; i++ {
		if err := encoder.Encode(sampleFrame{Time: i, Payload: []byte{byte(i)}}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := int64(0); i < 3; i++ {
		var frame sampleFrame
		if err := decoder.Decode(&frame); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if frame.Time != i {
			t.Fatalf("frame %d has time %d", i, frame.Time)
		}
	}
	var extra sampleFrame
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		t.Fatalf("Decode past end = %v, want io.EOF", err)
	}
}
