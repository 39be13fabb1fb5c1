// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/lucid-foundation/lucid/lib/codec"
)

// Version is the only frame version this package speaks.
const Version byte = 1

// HeaderSize is the fixed size of a frame header.
const HeaderSize = 8

// MaxPayload is the default payload limit. Handshake readers use
// MaxHandshakePayload.
const (
	MaxPayload          = 4 << 20
	MaxHandshakePayload = 4 << 10
)

var magic = [2]byte{'L', 'U'}

// Type identifies what a frame carries.
type Type byte

const (
	// TypeHello opens the handshake (host to peer).
	TypeHello Type = iota + 1
	// TypeResponse answers the hello challenge (peer to host).
	TypeResponse
	// TypeAccept completes the handshake (host to peer).
	TypeAccept
	// TypeData carries raw session stream bytes (peer to host).
	TypeData
	// TypeAction asks to perform an in-session action (peer to host).
	TypeAction
	// TypeDecision answers an action (host to peer).
	TypeDecision
	// TypeClose asks the host to finalize the session (peer to host).
	TypeClose
	// TypeEnd tells the peer how the session ended (host to peer).
	TypeEnd
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "hello"
	case TypeResponse:
		return "response"
	case TypeAccept:
		return "accept"
	case TypeData:
		return "data"
	case TypeAction:
		return "action"
	case TypeDecision:
		return "decision"
	case TypeClose:
		return "close"
	case TypeEnd:
		return "end"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

func (t Type) valid() bool { return t >= TypeHello && t <= TypeEnd }

var (
	// ErrMalformed is returned for a header with the wrong magic,
	// version, or type.
	ErrMalformed = errors.New("wire: malformed frame header")

	// ErrTooLarge is returned for a payload above the reader's limit.
	ErrTooLarge = errors.New("wire: frame payload too large")
)

// Frame is one framed message.
type Frame struct {
	Type    Type
	Payload []byte
}

// WriteFrame writes frame to w as a single Write call.
func WriteFrame(w io.Writer, frame Frame) error {
	if !frame.Type.valid() {
		return fmt.Errorf("%w: writing type %d", ErrMalformed, byte(frame.Type))
	}
	if len(frame.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(frame.Payload))
	}
	buffer := make([]byte, HeaderSize+len(frame.Payload))
	copy(buffer[0:2], magic[:])
	buffer[2] = Version
	buffer[3] = byte(frame.Type)
	binary.BigEndian.PutUint32(buffer[4:8], uint32(len(frame.Payload)))
	copy(buffer[HeaderSize:], frame.Payload)
	if _, err := w.Write(buffer); err != nil {
		return fmt.Errorf("writing %s frame: %w", frame.Type, err)
	}
	return nil
}

// ReadFrame reads one frame whose payload is at most limit bytes.
func ReadFrame(r io.Reader, limit int) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("reading frame header: %w", err)
	}
	if header[0] != magic[0] || header[1] != magic[1] {
		return Frame{}, fmt.Errorf("%w: bad magic %x", ErrMalformed, header[0:2])
	}
	if header[2] != Version {
		return Frame{}, fmt.Errorf("%w: unsupported version %d", ErrMalformed, header[2])
	}
	frameType := Type(header[3])
	if !frameType.valid() {
		return Frame{}, fmt.Errorf("%w: unknown type %d", ErrMalformed, header[3])
	}
	length := binary.BigEndian.Uint32(header[4:8])
	if uint64(length) > uint64(limit) {
		return Frame{}, fmt.Errorf("%w: %s frame of %d bytes exceeds %d", ErrTooLarge, frameType, length, limit)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("reading %s payload: %w", frameType, err)
	}
	return Frame{Type: frameType, Payload: payload}, nil
}

// WriteMessage encodes message as CBOR and writes it as a frame.
func WriteMessage(w io.Writer, frameType Type, message any) error {
	payload, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", frameType, err)
	}
	return WriteFrame(w, Frame{Type: frameType, Payload: payload})
}

// Decode unmarshals a CBOR frame payload, checking the frame type.
func Decode(frame Frame, want Type, message any) error {
	if frame.Type != want {
		return fmt.Errorf("%w: got %s frame, want %s", ErrMalformed, frame.Type, want)
	}
	if err := codec.Unmarshal(frame.Payload, message); err != nil {
		return fmt.Errorf("%w: decoding %s payload: %v", ErrMalformed, want, err)
	}
	return nil
}
