// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucid-foundation/lucid/lib/chunk"
	"github.com/lucid-foundation/lucid/lib/chunkstore"
	"github.com/lucid-foundation/lucid/lib/digest"
	"github.com/lucid-foundation/lucid/lib/manifest"
	"github.com/lucid-foundation/lucid/lib/process"
	"github.com/lucid-foundation/lucid/lib/ref"
	"github.com/lucid-foundation/lucid/lib/sessionkey"
)

var (
	testSession = ref.MustParseSessionID("a0a1a2a3a4a5a6a7a8a9aaabacadaeaf")
	started     = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
)

func sealedChunk(index int) []byte {
	return []byte(fmt.Sprintf("sealed chunk %d", index))
}

// storeChunks writes count chunks to a memory store, corrupting the
// ciphertext of index corrupt (-1 for none), and returns the records
// as committed.
func storeChunks(t *testing.T, count, corrupt int) (*chunkstore.Memory, []chunk.Record) {
	t.Helper()
	store := chunkstore.NewMemory()
	records := make([]chunk.Record, count)
	for index := range count {
		sealed := sealedChunk(index)
		records[index] = chunk.Record{
			Session:    testSession,
			Index:      uint64(index),
			Sequence:   uint64(index),
			RawSize:    100,
			SealedSize: len(sealed),
			Hash:       digest.Ciphertext(sealed),
		}
		if index == corrupt {
			sealed = append([]byte("x"), sealed...)
		}
		if err := store.Put(context.Background(), records[index], sealed); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	return store, records
}

func signedManifest(t *testing.T, records []chunk.Record, granularity manifest.Granularity) *manifest.Manifest {
	t.Helper()
	host, err := sessionkey.GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	defer host.Close()
	peer, err := sessionkey.GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	defer peer.Close()

	signed, err := manifest.Assemble(manifest.Input{
		Session: testSession,
		Owner:   "alice",
		Codec:   manifest.DefaultCodec(8<<20, "auto"),
		Participants: []manifest.Participant{
			{Role: manifest.RoleHost, Key: host.Public()},
			{Role: manifest.RolePeer, Key: peer.Public()},
		},
		Granularity: granularity,
		Records:     records,
		StartedAt:   started,
		EndedAt:     started.Add(time.Hour),
		CreatedAt:   started.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := signed.Sign(host); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return signed
}

func TestVerifyAgainstStore(t *testing.T) {
	store, records := storeChunks(t, 5, -1)
	signed := signedManifest(t, records, manifest.GranularityFull)

	result := verify(context.Background(), signed, store, []int{0, 4})
	if !result.OK() {
		t.Fatalf("problems: %v", result.Problems)
	}
	if result.Store != "verified" || len(result.Proofs) != 2 {
		t.Fatalf("report = %+v", result)
	}
	for _, proof := range result.Proofs {
		if !proof.Valid || proof.Leaf != records[proof.Proof.Index].Hash {
			t.Errorf("proof = %+v", proof)
		}
	}
}

func TestVerifyDetectsTamperedCiphertext(t *testing.T) {
	store, records := storeChunks(t, 3, 1)
	signed := signedManifest(t, records, manifest.GranularityFull)

	result := verify(context.Background(), signed, store, nil)
	if result.OK() || result.Store != "mismatch" {
		t.Fatalf("report = %+v", result)
	}
	if !strings.Contains(result.Problems[0], "chunk 1 ciphertext") {
		t.Errorf("problems = %v", result.Problems)
	}
}

func TestVerifyDetectsMissingChunks(t *testing.T) {
	_, records := storeChunks(t, 3, -1)
	signed := signedManifest(t, records, manifest.GranularityRoot)
	partial, _ := storeChunks(t, 2, -1)

	result := verify(context.Background(), signed, partial, nil)
	if result.OK() || result.Store != "mismatch" {
		t.Fatalf("report = %+v", result)
	}
	if !strings.Contains(result.Problems[0], "2 leaves") {
		t.Errorf("problems = %v", result.Problems)
	}
}

func TestVerifyRootOnlyProofsNeedStore(t *testing.T) {
	store, records := storeChunks(t, 3, -1)
	signed := signedManifest(t, records, manifest.GranularityRoot)

	if result := verify(context.Background(), signed, nil, []int{1}); result.OK() {
		t.Errorf("root-only proof without a store passed: %+v", result)
	}
	result := verify(context.Background(), signed, store, []int{1})
	if !result.OK() || len(result.Proofs) != 1 || !result.Proofs[0].Valid {
		t.Errorf("report = %+v", result)
	}
	if result := verify(context.Background(), signed, store, []int{3}); result.OK() {
		t.Error("out-of-range proof index passed")
	}
}

func TestVerifyDetectsForgedSignature(t *testing.T) {
	_, records := storeChunks(t, 2, -1)
	signed := signedManifest(t, records, manifest.GranularityFull)
	signed.Signature[0] ^= 0xff

	result := verify(context.Background(), signed, nil, nil)
	if result.OK() || result.Store != "skipped" {
		t.Fatalf("report = %+v", result)
	}
	if !strings.Contains(result.Problems[0], "signature") {
		t.Errorf("problems = %v", result.Problems)
	}
}

func writeManifest(t *testing.T, signed *manifest.Manifest) string {
	t.Helper()
	data, err := manifest.Encode(signed)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "session.manifest")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	return path
}

func TestRunExitStatus(t *testing.T) {
	_, records := storeChunks(t, 3, -1)
	signed := signedManifest(t, records, manifest.GranularityFull)

	var out bytes.Buffer
	if err := run([]string{"--manifest", writeManifest(t, signed), "--no-store", "--proof", "2"}, &out); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "result    OK") || !strings.Contains(out.String(), "chunk 2") {
		t.Errorf("output:\n%s", out.String())
	}

	signed.Owner = "mallory"
	out.Reset()
	err := run([]string{"--manifest", writeManifest(t, signed), "--no-store"}, &out)
	var exit *process.ExitError
	if !errors.As(err, &exit) || exit.Code != 2 {
		t.Fatalf("run error = %v, want exit status 2", err)
	}
	if !strings.Contains(out.String(), "result    FAILED") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestRunRequiresOneSource(t *testing.T) {
	for _, args := range [][]string{
		{"--no-store"},
		{"--manifest", "m", "--session", "00112233445566778899aabbccddeeff"},
	} {
		if err := run(args, &bytes.Buffer{}); err == nil || !strings.Contains(err.Error(), "exactly one") {
			t.Errorf("run(%v) error = %v", args, err)
		}
	}
}

func TestRunAgainstBadgerStore(t *testing.T) {
	dir := t.TempDir()
	store, err := chunkstore.OpenBadger(chunkstore.BadgerConfig{Dir: dir})
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	memory, records := storeChunks(t, 4, -1)
	for _, record := range records {
		_, sealed, err := memory.Get(context.Background(), testSession, record.Index)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if err := store.Put(context.Background(), record, sealed); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	signed := signedManifest(t, records, manifest.GranularityRoot)
	var out bytes.Buffer
	if err := run([]string{"--manifest", writeManifest(t, signed), "--store", dir, "--proof", "3", "--json"}, &out); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	for _, want := range []string{`"store": "verified"`, `"valid": true`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %s:\n%s", want, out.String())
		}
	}
}
