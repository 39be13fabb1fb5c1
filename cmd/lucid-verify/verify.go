// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/lucid-foundation/lucid/lib/chunkstore"
	"github.com/lucid-foundation/lucid/lib/digest"
	"github.com/lucid-foundation/lucid/lib/manifest"
	"github.com/lucid-foundation/lucid/lib/merkle"
	"github.com/lucid-foundation/lucid/lib/ref"
)

// report is the outcome of verifying one manifest.
type report struct {
	Session      ref.SessionID        `json:"session"`
	Owner        string               `json:"owner"`
	Granularity  manifest.Granularity `json:"granularity"`
	ChunkCount   uint64               `json:"chunk_count"`
	Root         digest.Hash          `json:"root"`
	ManifestHash digest.Hash          `json:"manifest_hash"`

	// Store is "verified", "mismatch", or "skipped".
	Store  string        `json:"store"`
	Proofs []proofReport `json:"proofs,omitempty"`

	Problems []string `json:"problems,omitempty"`
}

type proofReport struct {
	Leaf  digest.Hash  `json:"leaf"`
	Proof merkle.Proof `json:"proof"`
	Valid bool         `json:"valid"`
}

func (r *report) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// OK reports whether every check passed.
func (r *report) OK() bool { return len(r.Problems) == 0 }

// verify checks the manifest signature, recomputes the root from the
// stored ciphertexts when store is non-nil, and builds the requested
// inclusion proofs.
func verify(ctx context.Context, signed *manifest.Manifest, store chunkstore.Store, proofIndexes []int) *report {
	r := &report{
		Session:     signed.Session,
		Owner:       signed.Owner,
		Granularity: signed.Granularity,
		ChunkCount:  signed.ChunkCount,
		Root:        signed.Root,
		Store:       "skipped",
	}
	if hash, err := signed.Hash(); err != nil {
		r.problem("hashing manifest: %v", err)
	} else {
		r.ManifestHash = hash
	}
	if err := signed.Verify(); err != nil {
		r.problem("manifest: %v", err)
	}

	var leaves []digest.Hash
	if signed.Granularity == manifest.GranularityFull {
		leaves = signed.Chunks
	}
	if store != nil {
		stored, ok := storedLeaves(ctx, r, signed.Session, store)
		if ok {
			if err := signed.VerifyChunks(stored); err != nil {
				ok = false
				r.problem("store: %v", err)
			}
		}
		r.Store = "verified"
		if !ok {
			r.Store = "mismatch"
		}
		if leaves == nil {
			leaves = stored
		}
	}

	if len(proofIndexes) == 0 {
		return r
	}
	if len(leaves) == 0 {
		r.problem("inclusion proofs need the chunk list: the manifest is root-only and no store was read")
		return r
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		r.problem("building tree: %v", err)
		return r
	}
	for _, index := range proofIndexes {
		proof, err := tree.Proof(index)
		if err != nil {
			r.problem("proof %d: %v", index, err)
			continue
		}
		leaf := leaves[index]
		valid := merkle.Verify(leaf, proof, signed.Root)
		if !valid {
			r.problem("proof %d does not reach the signed root", index)
		}
		r.Proofs = append(r.Proofs, proofReport{Leaf: leaf, Proof: proof, Valid: valid})
	}
	return r
}

// storedLeaves re-hashes every stored ciphertext of session. It
// reports false when any chunk is unreadable or differs from its
// record.
func storedLeaves(ctx context.Context, r *report, session ref.SessionID, store chunkstore.Store) ([]digest.Hash, bool) {
	records, err := store.List(ctx, session)
	if err != nil {
		r.problem("store: %v", err)
		return nil, false
	}
	ok := true
	leaves := make([]digest.Hash, 0, len(records))
	for position, record := range records {
		if record.Index != uint64(position) {
			r.problem("store: chunk %d missing", position)
			return nil, false
		}
		_, sealed, err := store.Get(ctx, session, record.Index)
		if err != nil {
			r.problem("store: chunk %d: %v", record.Index, err)
			ok = false
			continue
		}
		if digest.Ciphertext(sealed) != record.Hash {
			r.problem("store: chunk %d ciphertext does not match its recorded hash", record.Index)
			ok = false
		}
		leaves = append(leaves, record.Hash)
	}
	return leaves, ok
}
