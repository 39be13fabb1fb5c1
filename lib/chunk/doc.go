// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk turns a live session stream into encrypted,
// content-addressed chunks.
//
// A [Pipeline] accumulates written bytes into chunks of a target size
// (the final chunk may be smaller), then runs each chunk through two
// worker stages: compression ([compress.Auto]) and authenticated
// encryption ([Encryptor]). Compression always precedes encryption. A
// single committer goroutine re-sequences completed chunks, persists
// them to the [Store], and appends their ciphertext hash to a
// [merkle.Builder].
//
// # Numbering
//
// Each chunk carries two numbers. The sequence is assigned on arrival,
// before compression, and is the position from which the chunk's key
// and nonce are derived; it is bound into the AEAD associated data. The
// index is assigned at commit time and is dense: a chunk whose
// compression, encryption, or persistence fails is never committed and
// consumes no index, so committed indices run 0, 1, 2, ... without
// gaps while no sequence, and therefore no nonce, is ever reused.
//
// # Failures
//
// Errors are reported as [*Error] with a [Kind]. A chunk failure is
// isolated to its chunk. After a configured number of consecutive chunk
// failures the pipeline fails with [KindThreshold]. Nonce reuse or an
// out-of-order Merkle insertion fails it immediately with
// [KindIntegrity]. A failed or aborted pipeline emits no further
// commits.
package chunk
