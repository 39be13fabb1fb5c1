// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lucid-foundation/lucid/lib/chunk"
	"github.com/lucid-foundation/lucid/lib/codec"
	"github.com/lucid-foundation/lucid/lib/digest"
	"github.com/lucid-foundation/lucid/lib/merkle"
	"github.com/lucid-foundation/lucid/lib/ref"
)

// Version is the manifest format version.
const Version = 1

// Granularity selects whether the chunk hash list is carried.
type Granularity string

const (
	GranularityRoot Granularity = "root"
	GranularityFull Granularity = "full"
)

// Codec describes how the session stream was stored.
type Codec struct {
	Cipher      string `cbor:"cipher" json:"cipher"`
	KDF         string `cbor:"kdf" json:"kdf"`
	Hash        string `cbor:"hash" json:"hash"`
	Compression string `cbor:"compression" json:"compression"`
	ChunkSize   uint64 `cbor:"chunk_size" json:"chunk_size"`
}

// DefaultCodec returns the codec descriptor of the chunk pipeline for
// a chunk size and compression setting ("auto" or an algorithm name).
func DefaultCodec(chunkSize uint64, compression string) Codec {
	return Codec{
		Cipher:      "xchacha20-poly1305",
		KDF:         "hkdf-sha256",
		Hash:        "blake3-keyed",
		Compression: compression,
		ChunkSize:   chunkSize,
	}
}

// Role is a participant's side of the session.
type Role string

const (
	RoleHost Role = "host"
	RolePeer Role = "peer"
)

// Participant is one side's ephemeral public key.
type Participant struct {
	Role Role   `cbor:"role" json:"role"`
	Key  []byte `cbor:"key" json:"key"`
}

// Manifest is the signed description of a finished session.
type Manifest struct {
	Version      uint8         `cbor:"version" json:"version"`
	Session      ref.SessionID `cbor:"session" json:"session"`
	Owner        string        `cbor:"owner" json:"owner"`
	Codec        Codec         `cbor:"codec" json:"codec"`
	Participants []Participant `cbor:"participants" json:"participants"`

	Granularity Granularity   `cbor:"granularity" json:"granularity"`
	ChunkCount  uint64        `cbor:"chunk_count" json:"chunk_count"`
	Chunks      []digest.Hash `cbor:"chunks,omitempty" json:"chunks,omitempty"`
	// Root is zero for a session that committed no chunks.
	Root digest.Hash `cbor:"root" json:"root"`

	TotalRawSize    uint64 `cbor:"total_raw_size" json:"total_raw_size"`
	TotalStoredSize uint64 `cbor:"total_stored_size" json:"total_stored_size"`
	MaxChunkSize    uint64 `cbor:"max_chunk_size" json:"max_chunk_size"`

	StartedAt time.Time `cbor:"started_at" json:"started_at"`
	EndedAt   time.Time `cbor:"ended_at" json:"ended_at"`
	CreatedAt time.Time `cbor:"created_at" json:"created_at"`

	Signature []byte `cbor:"signature,omitempty" json:"signature,omitempty"`
}

// Input is everything Assemble needs.
type Input struct {
	Session      ref.SessionID
	Owner        string
	Codec        Codec
	Participants []Participant
	Granularity  Granularity

	// Records are the committed chunks. Their indices must be exactly
	// 0..len-1 in order.
	Records []chunk.Record

	StartedAt time.Time
	EndedAt   time.Time
	CreatedAt time.Time
}

var (
	// ErrIncomplete is returned when the records do not form a dense
	// index sequence or belong to another session.
	ErrIncomplete = errors.New("manifest: chunk records incomplete")
	// ErrUnsigned is returned by Verify on a manifest without a
	// signature.
	ErrUnsigned = errors.New("manifest: not signed")
	// ErrBadSignature is returned by Verify when the signature fails.
	ErrBadSignature = errors.New("manifest: signature verification failed")
	// ErrMismatch is returned by Verify and VerifyChunks when recorded
	// values disagree with the leaves.
	ErrMismatch = errors.New("manifest: contents do not match")
)

// Assemble builds an unsigned manifest. It is deterministic.
func Assemble(input Input) (*Manifest, error) {
	if input.Session.IsZero() {
		return nil, fmt.Errorf("manifest requires a session id")
	}
	granularity := input.Granularity
	if granularity == "" {
		granularity = GranularityFull
	}
	if granularity != GranularityFull && granularity != GranularityRoot {
		return nil, fmt.Errorf("unknown manifest granularity %q", granularity)
	}
	if input.EndedAt.Before(input.StartedAt) {
		return nil, fmt.Errorf("session ended at %s before it started at %s", input.EndedAt, input.StartedAt)
	}

	leaves := make([]digest.Hash, len(input.Records))
	var rawTotal, storedTotal, largest uint64
	for position, record := range input.Records {
		if record.Index != uint64(position) {
			return nil, fmt.Errorf("%w: record %d has index %d", ErrIncomplete, position, record.Index)
		}
		if record.Session != input.Session {
			return nil, fmt.Errorf("%w: record %d belongs to session %s", ErrIncomplete, position, record.Session)
		}
		leaves[position] = record.Hash
		rawTotal += uint64(record.RawSize)
		storedTotal += uint64(record.SealedSize)
		largest = max(largest, uint64(record.RawSize))
	}

	participants := slices.Clone(input.Participants)
	slices.SortStableFunc(participants, func(a, b Participant) int {
		if a.Role == b.Role {
			return 0
		}
		if a.Role < b.Role {
			return -1
		}
		return 1
	})

	manifest := &Manifest{
		Version:         Version,
		Session:         input.Session,
		Owner:           input.Owner,
		Codec:           input.Codec,
		Participants:    participants,
		Granularity:     granularity,
		ChunkCount:      uint64(len(leaves)),
		TotalRawSize:    rawTotal,
		TotalStoredSize: storedTotal,
		MaxChunkSize:    largest,
		StartedAt:       input.StartedAt.UTC(),
		EndedAt:         input.EndedAt.UTC(),
		CreatedAt:       input.CreatedAt.UTC(),
	}
	if len(leaves) > 0 {
		root, err := merkle.Root(leaves)
		if err != nil {
			return nil, err
		}
		manifest.Root = root
	}
	if granularity == GranularityFull {
		manifest.Chunks = leaves
	}
	return manifest, nil
}

// Duration is how long the session ran.
func (m *Manifest) Duration() time.Duration { return m.EndedAt.Sub(m.StartedAt) }

// Participant returns the key recorded for role.
func (m *Manifest) Participant(role Role) (ed25519.PublicKey, bool) {
	for _, participant := range m.Participants {
		if participant.Role == role {
			return ed25519.PublicKey(participant.Key), true
		}
	}
	return nil, false
}

// SigningBytes returns the canonical encoding of every field except
// the signature.
func (m *Manifest) SigningBytes() ([]byte, error) {
	unsigned := *m
	unsigned.Signature = nil
	data, err := codec.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// Signer signs with the host's session key.
type Signer interface {
	Public() ed25519.PublicKey
	Sign(message []byte) []byte
}

// Sign signs the manifest. The signer's key must be the recorded host
// participant.
func (m *Manifest) Sign(signer Signer) error {
	hostKey, ok := m.Participant(RoleHost)
	if !ok {
		return fmt.Errorf("manifest has no host participant")
	}
	if !hostKey.Equal(signer.Public()) {
		return fmt.Errorf("signing key is not the host participant key")
	}
	data, err := m.SigningBytes()
	if err != nil {
		return err
	}
	m.Signature = signer.Sign(data)
	return nil
}

// Verify checks the host signature and, for full manifests, that the
// carried leaves produce the recorded root and count.
func (m *Manifest) Verify() error {
	if len(m.Signature) == 0 {
		return ErrUnsigned
	}
	hostKey, ok := m.Participant(RoleHost)
	if !ok || len(hostKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: no usable host key", ErrBadSignature)
	}
	data, err := m.SigningBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(hostKey, data, m.Signature) {
		return ErrBadSignature
	}
	if m.Granularity == GranularityFull {
		return m.VerifyChunks(m.Chunks)
	}
	return nil
}

// VerifyChunks checks leaves (for example, recomputed from stored
// chunks) against the recorded count and root.
func (m *Manifest) VerifyChunks(leaves []digest.Hash) error {
	if uint64(len(leaves)) != m.ChunkCount {
		return fmt.Errorf("%w: %d leaves, manifest records %d", ErrMismatch, len(leaves), m.ChunkCount)
	}
	if len(leaves) == 0 {
		if !m.Root.IsZero() {
			return fmt.Errorf("%w: root set on an empty session", ErrMismatch)
		}
		return nil
	}
	root, err := merkle.Root(leaves)
	if err != nil {
		return err
	}
	if root != m.Root {
		return fmt.Errorf("%w: root %s, manifest records %s", ErrMismatch, root.Short(), m.Root.Short())
	}
	return nil
}

// Proof returns the inclusion proof for chunk index. It needs the
// chunk list, so it works on full manifests only.
func (m *Manifest) Proof(index int) (merkle.Proof, error) {
	if m.Granularity != GranularityFull {
		return merkle.Proof{}, fmt.Errorf("manifest carries the root only")
	}
	tree, err := merkle.Build(m.Chunks)
	if err != nil {
		return merkle.Proof{}, err
	}
	return tree.Proof(index)
}

// Hash identifies the signed manifest: the manifest digest of its full
// encoding, signature included.
func (m *Manifest) Hash() (digest.Hash, error) {
	data, err := Encode(m)
	if err != nil {
		return digest.Hash{}, err
	}
	return digest.Manifest(data), nil
}

// Encode returns the canonical CBOR encoding.
func Encode(m *Manifest) ([]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// Decode parses a CBOR-encoded manifest.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}
