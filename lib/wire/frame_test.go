// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var stream bytes.Buffer
	frames := []Frame{
		{Type: TypeData, Payload: []byte("screen bytes")},
		{Type: TypeClose},
		{Type: TypeEnd, Payload: []byte{0x01}},
	}
	for _, frame := range frames {
		if err := WriteFrame(&stream, frame); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for _, want := range frames {
		got, err := ReadFrame(&stream, MaxPayload)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("got %s %q, want %s %q", got.Type, got.Payload, want.Type, want.Payload)
		}
	}
	if _, err := ReadFrame(&stream, MaxPayload); !errors.Is(err, io.EOF) {
		t.Errorf("read past end: %v, want EOF", err)
	}
}

func header(magic0, magic1, version, frameType byte, length uint32) []byte {
	raw := []byte{magic0, magic1, version, frameType, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(raw[4:], length)
	return raw
}

func TestReadFrameRejects(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"bad magic", header('X', 'U', Version, byte(TypeHello), 0), ErrMalformed},
		{"bad version", header('L', 'U', 9, byte(TypeHello), 0), ErrMalformed},
		{"unknown type", header('L', 'U', Version, 0x7f, 0), ErrMalformed},
		{"zero type", header('L', 'U', Version, 0, 0), ErrMalformed},
		{"oversized", header('L', 'U', Version, byte(TypeHello), MaxHandshakePayload+1), ErrTooLarge},
		{"huge length", header('L', 'U', Version, byte(TypeData), 0xffffffff), ErrTooLarge},
		{"truncated header", []byte{'L', 'U', Version}, io.ErrUnexpectedEOF},
		{"truncated payload", append(header('L', 'U', Version, byte(TypeHello), 10), 1, 2, 3), io.ErrUnexpectedEOF},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(test.input), MaxHandshakePayload)
			if !errors.Is(err, test.want) {
				t.Errorf("ReadFrame error = %v, want %v", err, test.want)
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	type ping struct {
		Sequence uint64 `cbor:"sequence"`
		Note     string `cbor:"note"`
	}
	var stream bytes.Buffer
	if err := WriteMessage(&stream, TypeAction, ping{Sequence: 7, Note: "hi"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	frame, err := ReadFrame(&stream, MaxPayload)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	var wrongType ping
	if err := Decode(frame, TypeDecision, &wrongType); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode with wrong type = %v, want ErrMalformed", err)
	}
	var decoded ping
	if err := Decode(frame, TypeAction, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Sequence != 7 || decoded.Note != "hi" {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestWriteFrameRejectsUnknownType(t *testing.T) {
	if err := WriteFrame(io.Discard, Frame{Type: 0}); !errors.Is(err, ErrMalformed) {
		t.Errorf("WriteFrame error = %v", err)
	}
}
