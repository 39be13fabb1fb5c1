// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lucid-foundation/lucid/lib/chunk"
	"github.com/lucid-foundation/lucid/lib/digest"
	"github.com/lucid-foundation/lucid/lib/merkle"
	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/sessionkey"
)

var (
	testSession = ref.MustParseSessionID("0f0e0d0c0b0a09080706050403020100")
	started     = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
)

func records(sizes ...int) []chunk.Record {
	list := make([]chunk.Record, len(sizes))
	for index, size := range sizes {
		list[index] = chunk.Record{
			Session:    testSession,
			Index:      uint64(index),
			Sequence:   uint64(index),
			RawSize:    size,
			SealedSize: size/2 + chunk.Overhead,
			Hash:       digest.Ciphertext([]byte(fmt.Sprintf("chunk-%d", index))),
		}
	}
	return list
}

func newKey(t *testing.T) *sessionkey.Ephemeral {
	t.Helper()
	key, err := sessionkey.GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	return key
}

func input(host, peer *sessionkey.Ephemeral, chunks []chunk.Record) Input {
	return Input{
		Session: testSession,
		Owner:   "owner-1",
		Codec:   DefaultCodec(16<<20, "auto"),
		// Peer listed first; Assemble orders participants by role.
		Participants: []Participant{
			{Role: RolePeer, Key: peer.Public()},
			{Role: RoleHost, Key: host.Public()},
		},
		Records:   chunks,
		StartedAt: started,
		EndedAt:   started.Add(90 * time.Minute),
		CreatedAt: started.Add(90*time.Minute + time.Second),
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	host, peer := newKey(t), newKey(t)
	first, err := Assemble(input(host, peer, records(16<<20, 16<<20, 4<<20)))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	second, err := Assemble(input(host, peer, records(16<<20, 16<<20, 4<<20)))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	a, _ := first.SigningBytes()
	b, _ := second.SigningBytes()
	if !bytes.Equal(a, b) {
		t.Fatal("two assemblies of the same input differ")
	}

	if first.ChunkCount != 3 || first.TotalRawSize != 36<<20 || first.MaxChunkSize != 16<<20 {
		t.Errorf("totals = count %d raw %d max %d", first.ChunkCount, first.TotalRawSize, first.MaxChunkSize)
	}
	if first.Duration() != 90*time.Minute {
		t.Errorf("Duration = %s", first.Duration())
	}
	if first.Participants[0].Role != RoleHost {
		t.Errorf("participants not ordered by role: %+v", first.Participants)
	}
	leaves := []digest.Hash{first.Chunks[0], first.Chunks[1], first.Chunks[2]}
	want := digest.Node(digest.Node(leaves[0], leaves[1]), digest.Node(leaves[2], leaves[2]))
	if first.Root != want {
		t.Errorf("root does not apply duplicate-last")
	}
}

func TestAssembleRejectsGaps(t *testing.T) {
	host, peer := newKey(t), newKey(t)
	chunks := records(10, 10, 10)
	chunks[2].Index = 3
	if _, err := Assemble(input(host, peer, chunks)); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Assemble error = %v, want ErrIncomplete", err)
	}

	chunks = records(10)
	chunks[0].Session = ref.MustParseSessionID("ffffffffffffffffffffffffffffffff")
	if _, err := Assemble(input(host, peer, chunks)); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Assemble error = %v, want ErrIncomplete", err)
	}
}

func TestSignVerifyAndEncode(t *testing.T) {
	host, peer := newKey(t), newKey(t)
	manifest, err := Assemble(input(host, peer, records(100, 200, 300, 400, 500)))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := manifest.Verify(); !errors.Is(err, ErrUnsigned) {
		t.Errorf("Verify unsigned = %v, want ErrUnsigned", err)
	}
	if err := manifest.Sign(peer); err == nil {
		t.Error("Sign accepted the peer key")
	}
	if err := manifest.Sign(host); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	encoded, err := Encode(manifest)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := decoded.Verify(); err != nil {
		t.Fatalf("Verify after decode: %v", err)
	}
	originalHash, _ := manifest.Hash()
	decodedHash, _ := decoded.Hash()
	if originalHash != decodedHash {
		t.Error("hash changed across encode/decode")
	}

	decoded.TotalRawSize++
	if err := decoded.Verify(); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify after tamper = %v, want ErrBadSignature", err)
	}
}

func TestVerifyDetectsSwappedChunks(t *testing.T) {
	host, peer := newKey(t), newKey(t)
	manifest, err := Assemble(input(host, peer, records(1, 2, 3)))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	swapped := []digest.Hash{manifest.Chunks[1], manifest.Chunks[0], manifest.Chunks[2]}
	if err := manifest.VerifyChunks(swapped); !errors.Is(err, ErrMismatch) {
		t.Errorf("VerifyChunks = %v, want ErrMismatch", err)
	}
	if err := manifest.VerifyChunks(manifest.Chunks[:2]); !errors.Is(err, ErrMismatch) {
		t.Errorf("VerifyChunks short = %v, want ErrMismatch", err)
	}
}

func TestProofsVerifyAgainstRoot(t *testing.T) {
	host, peer := newKey(t), newKey(t)
	manifest, err := Assemble(input(host, peer, records(1, 2, 3, 4, 5)))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	for index, leaf := range manifest.Chunks {
		proof, err := manifest.Proof(index)
		if err != nil {
			t.Fatalf("Proof(%d): %v", index, err)
		}
		if !merkle.Verify(leaf, proof, manifest.Root) {
			t.Errorf("proof for chunk %d does not verify", index)
		}
	}
}

func TestRootOnlyManifest(t *testing.T) {
	host, peer := newKey(t), newKey(t)
	in := input(host, peer, records(7, 8, 9))
	in.Granularity = GranularityRoot
	manifest, err := Assemble(in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if manifest.Chunks != nil || manifest.Root.IsZero() || manifest.ChunkCount != 3 {
		t.Errorf("root-only manifest = %+v", manifest)
	}
	if _, err := manifest.Proof(0); err == nil {
		t.Error("Proof succeeded without a chunk list")
	}
	if err := manifest.Sign(host); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := manifest.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestEmptySession(t *testing.T) {
	host, peer := newKey(t), newKey(t)
	manifest, err := Assemble(input(host, peer, nil))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if manifest.ChunkCount != 0 || !manifest.Root.IsZero() {
		t.Errorf("empty manifest = %+v", manifest)
	}
	if err := manifest.Sign(host); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := manifest.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}
