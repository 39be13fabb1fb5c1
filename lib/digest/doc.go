// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes the BLAKE3 hashes that bind a session's
// recording together.
//
// Every hash is a BLAKE3 keyed hash whose key names its domain, so a
// chunk hash can never collide with a Merkle node or a manifest digest
// over the same bytes. The keys are the ASCII domain names zero-padded
// to 32 bytes. Changing a key invalidates every anchored manifest.
//
//   - [Ciphertext]: a Merkle leaf, over the encrypted chunk bytes
//   - [Node]: an internal Merkle node, over left‖right
//   - [Manifest]: the manifest body, used as the anchoring reference
package digest
