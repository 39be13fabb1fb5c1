// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest assembles, signs, and verifies the record that
// anchors a finished session.
//
// [Assemble] is a pure function of its [Input]: the same committed
// chunk records, participants, and timestamps always produce the same
// bytes from [Manifest.SigningBytes]. The manifest carries the Merkle
// root over the chunk ciphertext hashes and the leaf count, which
// together pin the tree shape under the duplicate-last rule. With
// [GranularityFull] it also carries every leaf, so inclusion proofs
// can be served from the manifest alone.
//
// The host signs the signing bytes with its ephemeral session key;
// [Manifest.Verify] checks that signature and that the recorded root
// and totals agree with the carried leaves.
package manifest
