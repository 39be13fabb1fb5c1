// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package sessionkey

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/secret"
)

// KeySize is the size of the master secret and of each chunk key.
const KeySize = chacha20poly1305.KeySize

// NonceSize is the XChaCha20-Poly1305 nonce size.
const NonceSize = chacha20poly1305.NonceSizeX

// Nonce is a per-chunk AEAD nonce.
type Nonce [NonceSize]byte

var hkdfInfoChunkKey = []byte("lucid.chunk.key.v1")

// NewMaster returns a fresh random master secret.
func NewMaster() (*secret.Buffer, error) {
	return secret.NewRandom(KeySize)
}

// Deriver derives per-chunk keys and nonces for one session. It is
// safe for concurrent use; the master secret is read-only after
// construction.
type Deriver struct {
	master  *secret.Buffer
	session ref.SessionID
}

// NewDeriver takes ownership of master. The caller must not use or
// close master afterwards.
func NewDeriver(master *secret.Buffer, session ref.SessionID) (*Deriver, error) {
	if master.Len() != KeySize {
		return nil, fmt.Errorf("master secret must be %d bytes, got %d", KeySize, master.Len())
	}
	if session.IsZero() {
		return nil, fmt.Errorf("deriver requires a session id")
	}
	return &Deriver{master: master, session: session}, nil
}

// Session returns the session the Deriver is bound to.
func (d *Deriver) Session() ref.SessionID { return d.session }

// ChunkKey derives the key for the chunk with the given sequence
// number. The caller must Close the returned Buffer.
func (d *Deriver) ChunkKey(sequence uint64) (*secret.Buffer, error) {
	info := make([]byte, len(hkdfInfoChunkKey)+8)
	copy(info, hkdfInfoChunkKey)
	binary.BigEndian.PutUint64(info[len(hkdfInfoChunkKey):], sequence)

	reader := hkdf.New(sha256.New, d.master.Bytes(), d.session[:], info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("deriving chunk key %d: %w", sequence, err)
	}
	return secret.NewFromBytes(derived)
}

// ChunkNonce returns the nonce for the chunk with the given sequence
// number.
func (d *Deriver) ChunkNonce(sequence uint64) Nonce {
	return NonceFor(d.session, sequence)
}

// NonceFor builds the nonce for session and sequence.
func NonceFor(session ref.SessionID, sequence uint64) Nonce {
	var nonce Nonce
	copy(nonce[:ref.SessionIDSize], session[:])
	binary.BigEndian.PutUint64(nonce[ref.SessionIDSize:], sequence)
	return nonce
}

// Close zeroes the master secret.
func (d *Deriver) Close() error {
	return d.master.Close()
}
