// Copyright 2026 The Lucid Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkstore persists sealed chunks and their records.
//
// A [Store] receives each committed chunk once: its ciphertext and the
// [chunk.Record] describing it (index, nonce, hash, sizes). Stores are
// append-only; putting an index twice fails with [ErrExists]. The
// master secret never reaches a store, so stored chunks can only be
// verified against a manifest, not read.
//
// [Memory] keeps everything in process. [Badger] keeps chunks in a
// BadgerDB directory, keyed so that a session's chunks iterate in
// index order.
package chunkstore
