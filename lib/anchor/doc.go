// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package anchor hands finished manifests to the ledger.
//
// The session core does not talk to a ledger. It calls an [Anchorer]
// once per session with the signed manifest and does not retry. The
// [Outbox] anchorer writes each manifest into a directory that a
// separate ledger writer drains: a canonical CBOR file (the bytes
// whose digest is anchored) and a JSON sidecar for humans. Files are
// written atomically (temporary file, fsync, rename, directory fsync)
// with mode 0600, so the writer never sees a partial manifest.
package anchor
