// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"time"

	"github.com/lucid-foundation/lucid/lib/compress"
	"github.com/lucid-foundation/lucid/lib/digest"
	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/sessionkey"
)

// Record describes one committed chunk. Records are immutable once
// committed.
type Record struct {
	Session  ref.SessionID `cbor:"session" json:"session"`
	Index    uint64        `cbor:"index" json:"index"`
	Sequence uint64        `cbor:"sequence" json:"sequence"`

	RawSize        int                `cbor:"raw_size" json:"raw_size"`
	CompressedSize int                `cbor:"compressed_size" json:"compressed_size"`
	SealedSize     int                `cbor:"sealed_size" json:"sealed_size"`
	Compression    compress.Algorithm `cbor:"compression" json:"compression"`

	// Hash is digest.Ciphertext over the sealed bytes (ciphertext and
	// tag). It is the Merkle leaf.
	Hash  digest.Hash      `cbor:"hash" json:"hash"`
	Nonce sessionkey.Nonce `cbor:"nonce" json:"nonce"`

	CreatedAt time.Time `cbor:"created_at" json:"created_at"`
}

// Ratio returns RawSize / CompressedSize, or 1 for an empty chunk.
func (r Record) Ratio() float64 {
	if r.CompressedSize == 0 {
		return 1
	}
	return float64(r.RawSize) / float64(r.CompressedSize)
}

// Header returns the fields bound into the chunk's associated data.
func (r Record) Header() Header {
	return Header{
		Session:     r.Session,
		Sequence:    r.Sequence,
		Compression: r.Compression,
		RawSize:     r.RawSize,
	}
}
