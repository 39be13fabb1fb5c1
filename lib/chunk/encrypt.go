// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/lucid-foundation/lucid/lib/compress"
	"github.com/lucid-foundation/lucid/lib/digest"
	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/sessionkey"
)

// EnvelopeVersion is authenticated as the first byte of every chunk's
// associated data.
const EnvelopeVersion byte = 0x01

// Overhead is the Poly1305 tag size added to each chunk.
const Overhead = chacha20poly1305.Overhead

// Header is the chunk metadata bound into the AEAD associated data.
// Changing any field after sealing makes Open fail.
type Header struct {
	Session     ref.SessionID
	Sequence    uint64
	Compression compress.Algorithm
	RawSize     int
}

// associatedData returns version ‖ session ‖ sequence ‖ compression ‖
// raw size.
func (h Header) associatedData() []byte {
	data := make([]byte, 0, 1+ref.SessionIDSize+8+1+8)
	data = append(data, EnvelopeVersion)
	data = append(data, h.Session[:]...)
	data = binary.BigEndian.AppendUint64(data, h.Sequence)
	data = append(data, byte(h.Compression))
	data = binary.BigEndian.AppendUint64(data, uint64(h.RawSize))
	return data
}

// Encryptor seals one compressed chunk.
type Encryptor interface {
	Encrypt(header Header, plaintext []byte) (sealed []byte, nonce sessionkey.Nonce, err error)
}

// NonceLedger remembers every nonce claimed in a session.
type NonceLedger struct {
	mu   sync.Mutex
	used map[sessionkey.Nonce]struct{}
}

// NewNonceLedger returns an empty ledger.
func NewNonceLedger() *NonceLedger {
	return &NonceLedger{used: make(map[sessionkey.Nonce]struct{})}
}

// Claim records nonce, or returns ErrNonceReuse if it was claimed
// before.
func (l *NonceLedger) Claim(nonce sessionkey.Nonce) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.used[nonce]; seen {
		return fmt.Errorf("%w: %x", ErrNonceReuse, nonce[:])
	}
	l.used[nonce] = struct{}{}
	return nil
}

// Len returns the number of nonces claimed.
func (l *NonceLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.used)
}

// AEAD seals chunks with XChaCha20-Poly1305 under per-chunk keys from a
// sessionkey.Deriver.
type AEAD struct {
	deriver *sessionkey.Deriver
	ledger  *NonceLedger
}

// NewAEAD returns an AEAD for the deriver's session. The deriver is
// borrowed, not owned.
func NewAEAD(deriver *sessionkey.Deriver) *AEAD {
	return &AEAD{deriver: deriver, ledger: NewNonceLedger()}
}

// Encrypt implements Encryptor. The returned bytes are ciphertext
// followed by the 16-byte tag.
func (a *AEAD) Encrypt(header Header, plaintext []byte) ([]byte, sessionkey.Nonce, error) {
	if header.Session != a.deriver.Session() {
		return nil, sessionkey.Nonce{}, fmt.Errorf("header session %s does not match deriver session %s", header.Session, a.deriver.Session())
	}
	nonce := a.deriver.ChunkNonce(header.Sequence)
	if err := a.ledger.Claim(nonce); err != nil {
		return nil, nonce, err
	}

	key, err := a.deriver.ChunkKey(header.Sequence)
	if err != nil {
		return nil, nonce, err
	}
	defer key.Close()

	cipher, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, nonce, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	sealed := cipher.Seal(make([]byte, 0, len(plaintext)+cipher.Overhead()), nonce[:], plaintext, header.associatedData())
	return sealed, nonce, nil
}

// Decrypt opens sealed bytes produced by Encrypt for the same header.
func (a *AEAD) Decrypt(header Header, sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("sealed chunk is %d bytes, shorter than the %d-byte tag", len(sealed), Overhead)
	}
	key, err := a.deriver.ChunkKey(header.Sequence)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	cipher, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := sessionkey.NonceFor(header.Session, header.Sequence)
	plaintext, err := cipher.Open(nil, nonce[:], sealed, header.associatedData())
	if err != nil {
		return nil, fmt.Errorf("opening chunk %d (wrong key, tampered data, or mismatched header): %w", header.Sequence, err)
	}
	return plaintext, nil
}

// Open checks sealed against record.Hash, decrypts it, and decompresses
// the result back to the raw session bytes.
func (a *AEAD) Open(record Record, sealed []byte) ([]byte, error) {
	if got := digest.Ciphertext(sealed); got != record.Hash {
		return nil, fmt.Errorf("chunk %d hash is %s, record says %s", record.Index, got.Short(), record.Hash.Short())
	}
	if want := sessionkey.NonceFor(record.Session, record.Sequence); want != record.Nonce {
		return nil, fmt.Errorf("chunk %d nonce does not match its session and sequence", record.Index)
	}
	compressed, err := a.Decrypt(record.Header(), sealed)
	if err != nil {
		return nil, err
	}
	raw, err := compress.Decompress(compressed, record.Compression, record.RawSize)
	if err != nil {
		return nil, fmt.Errorf("decompressing chunk %d: %w", record.Index, err)
	}
	return raw, nil
}
